package parser

import "github.com/Glaschu/tsqllineage/pkg/token"

// FROM clause parsing: table references, joins, APPLY operators.
//
// Grammar:
//
//	from_clause → table_ref (join)*
//	join        → join_kw table_ref [ON expr] | "," table_ref
//	join_kw     → [INNER|LEFT [OUTER]|RIGHT [OUTER]|FULL [OUTER]|CROSS] JOIN
//	            | CROSS APPLY | OUTER APPLY
//	table_ref   → object_name [WITH "(" hints ")"] [[AS] alias]
//	            | "(" select_stmt ")" [AS] alias

// parseFromClause parses the FROM clause.
func (p *Parser) parseFromClause() *FromClause {
	fc := &FromClause{}
	fc.Source = p.parseTableRef()

	for {
		join := p.parseJoin()
		if join == nil {
			break
		}
		fc.Joins = append(fc.Joins, join)
	}

	return fc
}

// parseJoin parses a single join clause, returning nil when the current
// token does not start one.
func (p *Parser) parseJoin() *Join {
	join := &Join{}

	switch p.token.Type {
	case token.COMMA:
		p.nextToken()
		join.Type = JoinComma
	case token.JOIN:
		p.nextToken()
		join.Type = JoinInner
	case token.INNER:
		p.nextToken()
		p.expect(token.JOIN)
		join.Type = JoinInner
	case token.LEFT:
		p.nextToken()
		p.match(token.OUTER)
		p.expect(token.JOIN)
		join.Type = JoinLeft
	case token.RIGHT:
		p.nextToken()
		p.match(token.OUTER)
		p.expect(token.JOIN)
		join.Type = JoinRight
	case token.FULL:
		p.nextToken()
		p.match(token.OUTER)
		p.expect(token.JOIN)
		join.Type = JoinFull
	case token.CROSS:
		p.nextToken()
		if p.match(token.APPLY) {
			join.Type = JoinCrossApply
		} else {
			p.expect(token.JOIN)
			join.Type = JoinCross
		}
	case token.OUTER:
		p.nextToken()
		p.expect(token.APPLY)
		join.Type = JoinOuterApply
	default:
		return nil
	}

	join.Right = p.parseTableRef()

	if p.match(token.ON) {
		join.Condition = p.parseExpression()
	}

	return join
}

// parseTableRef parses a named or derived table reference.
func (p *Parser) parseTableRef() TableRef {
	if p.check(token.LPAREN) {
		p.nextToken()

		if p.check(token.SELECT) || p.check(token.WITH) {
			derived := &DerivedTable{}
			derived.Select = p.parseSelectBodyStmt()
			p.expect(token.RPAREN)
			derived.Alias = p.parseOptionalAlias()
			return derived
		}

		// Parenthesized table reference
		ref := p.parseTableRef()
		p.expect(token.RPAREN)
		return ref
	}

	name := &TableName{}
	name.Object = p.parseObjectName()

	// Table-valued function: consume the argument list, keep the name
	if p.check(token.LPAREN) {
		p.skipParens()
	}

	// Locking hint without WITH: dbo.T (NOLOCK) is handled above; the
	// WITH (NOLOCK) form is handled here
	if p.check(token.WITH) && p.checkPeek(token.LPAREN) {
		p.nextToken()
		p.skipParens()
	}

	name.Alias = p.parseOptionalAlias()

	// Hint may also follow the alias
	if p.check(token.WITH) && p.checkPeek(token.LPAREN) {
		p.nextToken()
		p.skipParens()
	}

	return name
}

// parseOptionalAlias parses [AS] alias if present.
func (p *Parser) parseOptionalAlias() string {
	if p.match(token.AS) {
		if p.check(token.IDENT) {
			alias := p.token.Literal
			p.nextToken()
			return alias
		}
		p.addError("expected alias after AS")
		return ""
	}

	if p.check(token.IDENT) && !p.isKeyword(p.token) {
		alias := p.token.Literal
		p.nextToken()
		return alias
	}

	return ""
}
