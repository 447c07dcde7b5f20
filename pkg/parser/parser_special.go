package parser

import (
	"strings"

	"github.com/Glaschu/tsqllineage/pkg/token"
)

// Special expressions: CASE, CAST/CONVERT, EXISTS, type names.

// parseCase parses a CASE expression (both simple and searched forms).
func (p *Parser) parseCase() Expr {
	p.expect(token.CASE)
	expr := &CaseExpr{}

	// Simple CASE has an operand before the first WHEN
	if !p.check(token.WHEN) {
		expr.Operand = p.parseExpression()
	}

	for p.match(token.WHEN) {
		when := WhenClause{}
		when.Condition = p.parseExpression()
		p.expect(token.THEN)
		when.Result = p.parseExpression()
		expr.Whens = append(expr.Whens, when)
	}

	if p.match(token.ELSE) {
		expr.Else = p.parseExpression()
	}

	p.expect(token.END)
	return expr
}

// parseCast parses CAST(expr AS type).
func (p *Parser) parseCast() Expr {
	p.expect(token.CAST)
	p.expect(token.LPAREN)

	expr := &CastExpr{}
	expr.Expr = p.parseExpression()
	p.expect(token.AS)
	expr.TypeName = p.parseTypeName()
	p.expect(token.RPAREN)

	return expr
}

// parseConvert parses CONVERT(type, expr [, style]) into a CastExpr.
func (p *Parser) parseConvert() Expr {
	p.expect(token.CONVERT)
	p.expect(token.LPAREN)

	expr := &CastExpr{}
	expr.TypeName = p.parseTypeName()
	p.expect(token.COMMA)
	expr.Expr = p.parseExpression()
	if p.match(token.COMMA) {
		p.parseExpression() // style, irrelevant to lineage
	}
	p.expect(token.RPAREN)

	return expr
}

// parseExists parses an EXISTS predicate; NOT has already been consumed.
func (p *Parser) parseExists(not bool) Expr {
	p.expect(token.EXISTS)
	p.expect(token.LPAREN)
	expr := &ExistsExpr{Not: not, Select: p.parseSelectBodyStmt()}
	p.expect(token.RPAREN)
	return expr
}

// parseTypeName parses a type name like int, nvarchar(50), decimal(18, 2)
// or numeric(10) and returns its textual form.
func (p *Parser) parseTypeName() string {
	var sb strings.Builder

	if !p.check(token.IDENT) {
		p.addError("expected type name")
		return ""
	}
	sb.WriteString(p.token.Literal)
	p.nextToken()

	// Two-word types: double precision
	if p.check(token.IDENT) && strings.EqualFold(sb.String(), "double") {
		sb.WriteByte(' ')
		sb.WriteString(p.token.Literal)
		p.nextToken()
	}

	if p.check(token.LPAREN) {
		sb.WriteByte('(')
		p.nextToken()
		for !p.check(token.RPAREN) && !p.check(token.EOF) {
			sb.WriteString(p.token.Literal)
			p.nextToken()
			if p.match(token.COMMA) {
				sb.WriteString(", ")
			}
		}
		sb.WriteByte(')')
		p.expect(token.RPAREN)
	}

	return sb.String()
}
