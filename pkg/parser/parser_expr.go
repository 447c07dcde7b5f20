package parser

import (
	"strings"

	"github.com/Glaschu/tsqllineage/pkg/token"
)

// Expression precedence parsing.
//
// Grammar (loosest to tightest binding):
//
//	expression  → or_expr
//	or_expr     → and_expr (OR and_expr)*
//	and_expr    → not_expr (AND not_expr)*
//	not_expr    → [NOT] predicate
//	predicate   → additive [IS [NOT] NULL | [NOT] BETWEEN | [NOT] IN |
//	              [NOT] LIKE | cmp_op additive]
//	additive    → multiplicative (("+"|"-") multiplicative)*
//	multiplicative → unary (("*"|"/"|"%") unary)*
//	unary       → ["-"|"+"] primary

// parseExpression parses a full expression.
func (p *Parser) parseExpression() Expr {
	return p.parseOr()
}

// parseOr parses OR expressions.
func (p *Parser) parseOr() Expr {
	left := p.parseAnd()

	for p.check(token.OR) {
		p.nextToken()
		right := p.parseAnd()
		left = &BinaryExpr{Left: left, Op: token.OR, Right: right}
	}

	return left
}

// parseAnd parses AND expressions.
func (p *Parser) parseAnd() Expr {
	left := p.parseNot()

	for p.check(token.AND) {
		p.nextToken()
		right := p.parseNot()
		left = &BinaryExpr{Left: left, Op: token.AND, Right: right}
	}

	return left
}

// parseNot parses NOT expressions.
func (p *Parser) parseNot() Expr {
	if p.match(token.NOT) {
		return &UnaryExpr{Op: token.NOT, Expr: p.parseNot()}
	}
	return p.parsePredicate()
}

// parsePredicate parses comparison and predicate expressions.
func (p *Parser) parsePredicate() Expr {
	left := p.parseAdditive()

	// IS [NOT] NULL
	if p.check(token.IS) {
		p.nextToken()
		not := p.match(token.NOT)
		p.expect(token.NULL)
		return &IsNullExpr{Expr: left, Not: not}
	}

	not := false
	if p.check(token.NOT) {
		switch p.peek.Type {
		case token.BETWEEN, token.IN, token.LIKE:
			p.nextToken()
			not = true
		}
	}

	// [NOT] BETWEEN low AND high
	if p.match(token.BETWEEN) {
		low := p.parseAdditive()
		p.expect(token.AND)
		high := p.parseAdditive()
		return &BetweenExpr{Expr: left, Not: not, Low: low, High: high}
	}

	// [NOT] IN (values | subquery)
	if p.match(token.IN) {
		in := &InExpr{Expr: left, Not: not}
		p.expect(token.LPAREN)
		if p.check(token.SELECT) || p.check(token.WITH) {
			in.Query = p.parseSelectBodyStmt()
		} else {
			in.Values = p.parseExpressionList()
		}
		p.expect(token.RPAREN)
		return in
	}

	// [NOT] LIKE pattern [ESCAPE char]
	if p.match(token.LIKE) {
		like := &LikeExpr{Expr: left, Not: not}
		like.Pattern = p.parseAdditive()
		if p.matchIdent("escape") {
			p.parseAdditive()
		}
		return like
	}

	// Comparison operators
	switch p.token.Type {
	case token.EQ, token.NE, token.LT, token.GT, token.LE, token.GE:
		op := p.token.Type
		p.nextToken()
		right := p.parseAdditive()
		return &BinaryExpr{Left: left, Op: op, Right: right}
	}

	return left
}

// parseAdditive parses + and - expressions (+ doubles as string concat).
func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()

	for p.check(token.PLUS) || p.check(token.MINUS) {
		op := p.token.Type
		p.nextToken()
		right := p.parseMultiplicative()
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}

	return left
}

// parseMultiplicative parses *, / and % expressions.
func (p *Parser) parseMultiplicative() Expr {
	left := p.parseUnary()

	for p.check(token.STAR) || p.check(token.SLASH) || p.check(token.MOD) {
		op := p.token.Type
		p.nextToken()
		right := p.parseUnary()
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}

	return left
}

// parseUnary parses unary +/- expressions.
func (p *Parser) parseUnary() Expr {
	if p.check(token.MINUS) || p.check(token.PLUS) {
		op := p.token.Type
		p.nextToken()
		return &UnaryExpr{Op: op, Expr: p.parseUnary()}
	}
	return p.parsePrimary()
}

// parsePrimary parses primary expressions: literals, variables, column
// references, function calls, CASE, CAST, subqueries.
func (p *Parser) parsePrimary() Expr {
	switch p.token.Type {
	case token.NUMBER:
		lit := &Literal{Type: LiteralNumber, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.STRING:
		lit := &Literal{Type: LiteralString, Value: p.token.Literal}
		p.nextToken()
		return lit

	case token.NULL:
		p.nextToken()
		return &Literal{Type: LiteralNull, Value: "NULL"}

	case token.VARIABLE:
		v := &VariableExpr{Name: p.token.Literal}
		p.nextToken()
		return v

	case token.CASE:
		return p.parseCase()

	case token.CAST:
		return p.parseCast()

	case token.CONVERT:
		return p.parseConvert()

	case token.EXISTS:
		return p.parseExists(false)

	case token.NOT:
		if p.checkPeek(token.EXISTS) {
			p.nextToken()
			return p.parseExists(true)
		}
		p.nextToken()
		return &UnaryExpr{Op: token.NOT, Expr: p.parsePrimary()}

	case token.STAR:
		p.nextToken()
		return &StarExpr{}

	case token.LPAREN:
		p.nextToken()
		if p.check(token.SELECT) || p.check(token.WITH) {
			sub := &SubqueryExpr{Select: p.parseSelectBodyStmt()}
			p.expect(token.RPAREN)
			return sub
		}
		expr := p.parseExpression()
		p.expect(token.RPAREN)
		return &ParenExpr{Expr: expr}

	case token.LEFT, token.RIGHT:
		// LEFT(s, n) / RIGHT(s, n) are functions despite being keywords
		if p.checkPeek(token.LPAREN) {
			name := strings.ToLower(p.token.Type.String())
			p.nextToken()
			return p.parseFuncCall(name)
		}
		p.addError("unexpected " + p.token.Type.String())
		p.nextToken()
		return nil

	case token.IDENT:
		return p.parseIdentExpr()

	default:
		p.addError("unexpected token " + p.token.Type.String() + " in expression")
		p.nextToken()
		return nil
	}
}

// parseIdentExpr parses an identifier-led expression: a possibly dotted
// column reference or a function call.
func (p *Parser) parseIdentExpr() Expr {
	parts := []string{p.token.Literal}
	p.nextToken()

	for p.check(token.DOT) {
		// Keywords are legal column names after a dot (c.desc, t.group)
		if p.checkPeek(token.IDENT) || token.IsKeyword(p.peek.Type) {
			p.nextToken()
			parts = append(parts, p.token.Literal)
			p.nextToken()
		} else if p.checkPeek(token.STAR) {
			// t.* inside an argument list (e.g. COUNT(t.*))
			p.nextToken()
			p.nextToken()
			return &StarExpr{}
		} else {
			break
		}
	}

	if p.check(token.LPAREN) {
		return p.parseFuncCall(strings.Join(parts, "."))
	}

	ref := &ColumnRef{Column: parts[len(parts)-1]}
	if len(parts) > 1 {
		ref.Table = strings.Join(parts[:len(parts)-1], ".")
	}
	return ref
}

// parseFuncCall parses a function call whose name has been consumed.
// The current token is the opening paren.
func (p *Parser) parseFuncCall(name string) Expr {
	fn := &FuncCall{Name: name}
	p.expect(token.LPAREN)

	if p.match(token.DISTINCT) {
		fn.Distinct = true
	}

	if p.check(token.STAR) && p.checkPeek(token.RPAREN) {
		fn.Star = true
		p.nextToken()
	} else if !p.check(token.RPAREN) {
		fn.Args = p.parseExpressionList()
	}

	p.expect(token.RPAREN)

	// OVER (PARTITION BY ... ORDER BY ... [frame])
	if p.check(token.OVER) && p.checkPeek(token.LPAREN) {
		p.nextToken()
		fn.Over = p.parseOverClause()
	}

	return fn
}

// parseOverClause parses an OVER clause, collecting the PARTITION BY and
// ORDER BY expressions. Frame specifications are consumed and discarded.
func (p *Parser) parseOverClause() []Expr {
	var exprs []Expr
	p.expect(token.LPAREN)

	if p.check(token.PARTITION) {
		p.nextToken()
		p.expect(token.BY)
		exprs = append(exprs, p.parseExpressionList()...)
	}

	if p.check(token.ORDER) {
		p.nextToken()
		p.expect(token.BY)
		exprs = append(exprs, p.parseOrderByList()...)
	}

	// Frame spec (ROWS BETWEEN ... etc.): skip to the closing paren
	depth := 0
	for !p.check(token.EOF) {
		switch p.token.Type {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			if depth == 0 {
				p.nextToken()
				return exprs
			}
			depth--
		}
		p.nextToken()
	}

	return exprs
}
