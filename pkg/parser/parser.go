// Package parser provides T-SQL lexing and parsing into the typed AST the
// lineage analyzer consumes.
//
// # Parser Architecture
//
// The parser is split across multiple files for maintainability:
//
//   - parser.go (this file): Public API, Parser struct, token helpers,
//     statement dispatch and recovery
//   - parser_stmt.go: DML statements (SELECT, INSERT, UPDATE, DELETE, MERGE),
//     WITH clauses, CREATE TABLE/PROCEDURE, IF/WHILE blocks
//   - parser_from.go: FROM clause parsing (table refs, JOINs, APPLY)
//   - parser_expr.go: Expression precedence parsing
//   - parser_special.go: CASE, CAST/CONVERT, EXISTS, type names
//
// # Usage
//
//	script, err := parser.ParseScript("INSERT INTO t(a) SELECT x FROM s")
//	if err != nil {
//	    // handle error
//	}
//
// Statements the analyzer has no use for (DECLARE, SET, EXEC, PRINT, ...)
// are consumed without producing AST nodes. Statement heads the parser does
// not recognize are skipped to the next statement boundary so that one odd
// construct does not abort analysis of the rest of the script.
package parser

import (
	"fmt"
	"strings"

	"github.com/Glaschu/tsqllineage/pkg/token"
)

// TokenType is an alias for token.TokenType.
type TokenType = token.TokenType

// Token is an alias for token.Token.
type Token = token.Token

// Position is an alias for token.Position.
type Position = token.Position

// Parser parses T-SQL into an AST.
type Parser struct {
	lexer  *Lexer
	token  Token // current token
	peek   Token // lookahead token
	peek2  Token // second lookahead token
	errors []error
}

// NewParser creates a new parser for the given T-SQL input.
func NewParser(sql string) *Parser {
	p := &Parser{
		lexer: NewLexer(sql),
	}
	// Read three tokens to initialize current, peek, and peek2
	p.nextToken()
	p.nextToken()
	p.nextToken()
	return p
}

// ParseScript parses a full T-SQL script and returns the AST.
// The returned script is best-effort even when err is non-nil.
func ParseScript(sql string) (*Script, error) {
	p := NewParser(sql)
	script := p.parseScript()
	if len(p.errors) > 0 {
		return script, p.errors[0]
	}
	return script, nil
}

// Errors returns all accumulated parse errors.
func (p *Parser) Errors() []error {
	return p.errors
}

// parseScript parses statements until EOF.
func (p *Parser) parseScript() *Script {
	script := &Script{}
	script.Statements = p.parseStatementList(token.EOF)

	// Surface the outermost procedure name, if any
	for _, stmt := range script.Statements {
		if proc, ok := stmt.(*CreateProcStmt); ok {
			script.ProcedureName = proc.Name.String()
			break
		}
	}

	return script
}

// parseStatementList parses statements until the stop token (or EOF).
// Plain BEGIN...END blocks are flattened into the list since they carry
// no scope of their own.
func (p *Parser) parseStatementList(stop TokenType) []Statement {
	var stmts []Statement

	for !p.check(token.EOF) && !p.check(stop) {
		// Statement separators
		if p.check(token.SEMI) || p.check(token.GO) {
			p.nextToken()
			continue
		}
		if p.check(token.ELSE) || p.check(token.END) {
			if stop == token.EOF {
				// Stray ELSE/END with no enclosing construct: skip it
				p.nextToken()
				continue
			}
			// Belongs to the enclosing construct
			break
		}

		// Flatten plain blocks; BEGIN TRAN / BEGIN TRY are not blocks
		if p.check(token.BEGIN) && !p.beginsTransaction() {
			p.nextToken()
			if p.isBlockMarker() {
				p.nextToken() // TRY / CATCH marker
			}
			stmts = append(stmts, p.parseStatementList(token.END)...)
			p.expect(token.END)
			if p.isBlockMarker() {
				p.nextToken()
			}
			continue
		}

		before := p.token
		stmt := p.parseStatement()
		if stmt != nil {
			stmts = append(stmts, stmt)
		} else if p.token == before {
			// No progress: skip the statement entirely
			p.skipStatement()
		}
	}

	return stmts
}

// parseStatement parses a single statement, returning nil for statements
// that carry no lineage (which are consumed) and for unrecognized heads
// (which are skipped by the caller).
func (p *Parser) parseStatement() Statement {
	switch p.token.Type {
	case token.CREATE:
		switch p.peek.Type {
		case token.TABLE:
			return p.parseCreateTable()
		case token.PROC, token.PROCEDURE:
			return p.parseCreateProc()
		default:
			p.skipStatement()
			return nil
		}
	case token.WITH:
		return p.parseWithStatement()
	case token.SELECT:
		return p.parseSelectStmt()
	case token.INSERT:
		return p.parseInsert()
	case token.UPDATE:
		return p.parseUpdate()
	case token.DELETE:
		return p.parseDelete()
	case token.MERGE:
		return p.parseMerge()
	case token.TRUNCATE:
		return p.parseTruncate()
	case token.DROP:
		if p.peek.Type == token.TABLE {
			return p.parseDropTable()
		}
		p.skipStatement()
		return nil
	case token.IF:
		return p.parseIf()
	case token.WHILE:
		return p.parseWhile()
	case token.DECLARE, token.SET, token.EXEC, token.RETURN, token.OPTION:
		p.skipStatement()
		return nil
	default:
		p.skipStatement()
		return nil
	}
}

// beginsTransaction reports whether the current BEGIN starts a transaction
// rather than a block.
func (p *Parser) beginsTransaction() bool {
	if p.peek.Type != token.IDENT {
		return false
	}
	switch strings.ToLower(p.peek.Literal) {
	case "tran", "transaction":
		return true
	}
	return false
}

// isBlockMarker reports whether the current token is the TRY/CATCH half of
// a BEGIN TRY / END TRY pair.
func (p *Parser) isBlockMarker() bool {
	if p.token.Type != token.IDENT {
		return false
	}
	switch strings.ToLower(p.token.Literal) {
	case "try", "catch":
		return true
	}
	return false
}

// statementStarters are the tokens that begin a statement the parser knows.
var statementStarters = map[TokenType]bool{
	token.SELECT:   true,
	token.INSERT:   true,
	token.UPDATE:   true,
	token.DELETE:   true,
	token.MERGE:    true,
	token.CREATE:   true,
	token.WITH:     true,
	token.TRUNCATE: true,
	token.DROP:     true,
	token.IF:       true,
	token.WHILE:    true,
	token.BEGIN:    true,
	token.END:      true,
	token.ELSE:     true,
	token.DECLARE:  true,
	token.RETURN:   true,
}

// skipStatement advances past the current statement: up to and including
// the next semicolon, or up to (not including) GO, EOF, or a token that
// starts a recognized statement, at paren depth zero.
func (p *Parser) skipStatement() {
	// Always make progress past the current token
	p.nextToken()

	depth := 0
	for {
		switch p.token.Type {
		case token.EOF, token.GO:
			return
		case token.SEMI:
			if depth == 0 {
				p.nextToken()
				return
			}
		case token.LPAREN:
			depth++
		case token.RPAREN:
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 && statementStarters[p.token.Type] {
				return
			}
		}
		p.nextToken()
	}
}

// ---------- Token Helpers ----------

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.peek2
	p.peek2 = p.lexer.NextToken()
}

// check returns true if the current token is of the given type.
func (p *Parser) check(t TokenType) bool {
	return p.token.Type == t
}

// checkPeek returns true if the peek token is of the given type.
func (p *Parser) checkPeek(t TokenType) bool {
	return p.peek.Type == t
}

// checkPeek2 returns true if the peek2 token is of the given type.
func (p *Parser) checkPeek2(t TokenType) bool {
	return p.peek2.Type == t
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, t))
	return false
}

// matchIdent consumes the current token if it is the given soft keyword
// (an IDENT compared case-insensitively) and returns true.
func (p *Parser) matchIdent(word string) bool {
	if p.check(token.IDENT) && strings.EqualFold(p.token.Literal, word) {
		p.nextToken()
		return true
	}
	return false
}

// addError adds a parse error.
func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, &ParseError{
		Pos:     p.token.Pos,
		Message: msg,
	})
}

// isKeyword returns true if the token is a reserved keyword that can't be
// used as a bare alias.
func (p *Parser) isKeyword(tok Token) bool {
	return token.IsKeyword(tok.Type)
}

// skipParens skips a balanced parenthesized group starting at the current
// LPAREN. Used for hints and other constructs lineage ignores.
func (p *Parser) skipParens() {
	if !p.check(token.LPAREN) {
		return
	}
	depth := 0
	for !p.check(token.EOF) {
		switch p.token.Type {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			depth--
			if depth == 0 {
				p.nextToken()
				return
			}
		}
		p.nextToken()
	}
}

// parseObjectName parses a dotted object name, tolerating the empty middle
// part of names like db..table.
func (p *Parser) parseObjectName() *ObjectName {
	name := &ObjectName{}

	if !p.check(token.IDENT) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, token.IDENT))
		return name
	}
	name.Parts = append(name.Parts, p.token.Literal)
	p.nextToken()

	for p.match(token.DOT) {
		if p.check(token.IDENT) || token.IsKeyword(p.token.Type) {
			name.Parts = append(name.Parts, p.token.Literal)
			p.nextToken()
		} else if p.check(token.DOT) {
			// db..table: empty schema part
			continue
		} else {
			break
		}
	}

	return name
}

// parseIdentList parses a parenthesized comma-separated identifier list.
// The caller has already matched the LPAREN.
func (p *Parser) parseIdentList() []string {
	var names []string
	for {
		if p.check(token.IDENT) {
			names = append(names, p.token.Literal)
			p.nextToken()
		} else {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, p.token.Type, token.IDENT))
			break
		}
		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)
	return names
}
