package parser

import (
	"strings"

	"github.com/Glaschu/tsqllineage/pkg/token"
)

// Statement parsing: WITH clauses, SELECT bodies, INSERT/UPDATE/DELETE/MERGE,
// CREATE TABLE/PROCEDURE, IF/WHILE blocks.
//
// Grammar (the lineage-relevant subset of T-SQL):
//
//	with_stmt     → WITH cte ("," cte)* dml_stmt
//	cte           → identifier ["(" ident_list ")"] AS "(" select_stmt ")"
//	select_stmt   → select_body
//	select_body   → select_core [UNION [ALL] select_body]
//	select_core   → SELECT [DISTINCT] [TOP expr [PERCENT]] select_list
//	                [INTO object_name] [FROM from_clause] [WHERE expr]
//	                [GROUP BY expr_list] [HAVING expr] [ORDER BY expr_list]
//	insert_stmt   → INSERT [INTO] object_name ["(" ident_list ")"]
//	                (select_stmt | VALUES "(" expr_list ")" ("," "(" expr_list ")")*)
//	update_stmt   → UPDATE object_name SET set_list [FROM from_clause] [WHERE expr]
//	merge_stmt    → MERGE [INTO] object_name [[AS] alias] USING table_ref
//	                ON expr (WHEN [NOT] MATCHED [BY ident] [AND expr] THEN action)+

// parseWithStatement parses a WITH clause followed by the DML statement it
// prefixes.
func (p *Parser) parseWithStatement() Statement {
	with := p.parseWithClause()

	switch p.token.Type {
	case token.SELECT:
		stmt := p.parseSelectStmt()
		if sel, ok := stmt.(*SelectStmt); ok {
			sel.With = with
		}
		return stmt
	case token.INSERT:
		stmt := p.parseInsert()
		if ins, ok := stmt.(*InsertStmt); ok {
			ins.With = with
		}
		return stmt
	case token.UPDATE:
		stmt := p.parseUpdate()
		if upd, ok := stmt.(*UpdateStmt); ok {
			upd.With = with
		}
		return stmt
	case token.DELETE:
		stmt := p.parseDelete()
		if del, ok := stmt.(*DeleteStmt); ok {
			del.With = with
		}
		return stmt
	case token.MERGE:
		stmt := p.parseMerge()
		if mrg, ok := stmt.(*MergeStmt); ok {
			mrg.With = with
		}
		return stmt
	default:
		p.addError("expected SELECT, INSERT, UPDATE, DELETE or MERGE after WITH clause")
		return nil
	}
}

// parseWithClause parses WITH cte [, cte]*.
func (p *Parser) parseWithClause() *WithClause {
	p.expect(token.WITH)
	with := &WithClause{}

	for {
		cte := p.parseCTE()
		with.CTEs = append(with.CTEs, cte)

		if !p.match(token.COMMA) {
			break
		}
	}

	return with
}

// parseCTE parses a single CTE with an optional explicit column list.
func (p *Parser) parseCTE() *CTE {
	cte := &CTE{}

	if !p.check(token.IDENT) {
		p.addError("expected CTE name")
		return cte
	}
	cte.Name = p.token.Literal
	p.nextToken()

	if p.match(token.LPAREN) {
		cte.Columns = p.parseIdentList()
	}

	p.expect(token.AS)
	p.expect(token.LPAREN)
	cte.Select = p.parseSelectBodyStmt()
	p.expect(token.RPAREN)

	return cte
}

// parseSelectBodyStmt parses a SELECT body wrapped in a SelectStmt, for use
// inside CTEs and derived tables where INTO is not allowed.
func (p *Parser) parseSelectBodyStmt() *SelectStmt {
	stmt := &SelectStmt{}
	if p.check(token.WITH) {
		stmt.With = p.parseWithClause()
	}
	stmt.Body, _ = p.parseSelectBody()
	return stmt
}

// parseSelectStmt parses a SELECT statement, capturing an optional INTO
// target from the first core.
func (p *Parser) parseSelectStmt() Statement {
	stmt := &SelectStmt{}
	stmt.Body, stmt.Into = p.parseSelectBody()
	return stmt
}

// parseSelectBody parses a SELECT body with possible UNION chaining.
// Returns the INTO target of the leftmost core, if any.
func (p *Parser) parseSelectBody() (*SelectBody, *ObjectName) {
	body := &SelectBody{}
	var into *ObjectName
	body.Left, into = p.parseSelectCore()

	if p.check(token.UNION) {
		p.nextToken()
		if p.match(token.ALL) {
			body.Op = SetOpUnionAll
			body.All = true
		} else {
			body.Op = SetOpUnion
		}
		body.Right, _ = p.parseSelectBody()
	}

	return body, into
}

// parseSelectCore parses a single SELECT clause.
func (p *Parser) parseSelectCore() (*SelectCore, *ObjectName) {
	p.expect(token.SELECT)
	sc := &SelectCore{}
	var into *ObjectName

	if p.match(token.DISTINCT) {
		sc.Distinct = true
	} else {
		p.match(token.ALL)
	}

	// TOP (n) [PERCENT]
	if p.match(token.TOP) {
		if p.check(token.LPAREN) {
			p.nextToken()
			sc.Top = p.parseExpression()
			p.expect(token.RPAREN)
		} else {
			sc.Top = p.parseExpression()
		}
		if p.match(token.PERCENT) {
			sc.TopPercent = true
		}
		if p.check(token.WITH) && p.checkPeek(token.IDENT) && strings.EqualFold(p.peek.Literal, "ties") {
			p.nextToken()
			p.nextToken()
		}
	}

	sc.Items = p.parseSelectList()

	if p.match(token.INTO) {
		into = p.parseObjectName()
	}

	if p.match(token.FROM) {
		sc.From = p.parseFromClause()
	}

	if p.match(token.WHERE) {
		sc.Where = p.parseExpression()
	}

	if p.check(token.GROUP) {
		p.nextToken()
		p.expect(token.BY)
		sc.GroupBy = p.parseExpressionList()
	}

	if p.match(token.HAVING) {
		sc.Having = p.parseExpression()
	}

	if p.check(token.ORDER) {
		p.nextToken()
		p.expect(token.BY)
		sc.OrderBy = p.parseOrderByList()
	}

	if p.match(token.OPTION) {
		p.skipParens()
	}

	return sc, into
}

// parseSelectList parses the list of SELECT items.
func (p *Parser) parseSelectList() []SelectItem {
	var items []SelectItem

	for {
		item := p.parseSelectItem()
		items = append(items, item)

		if !p.match(token.COMMA) {
			break
		}
	}

	return items
}

// parseSelectItem parses a single SELECT item.
func (p *Parser) parseSelectItem() SelectItem {
	item := SelectItem{}

	// * and table.*
	if p.check(token.STAR) {
		item.Star = true
		p.nextToken()
		return item
	}
	if p.check(token.IDENT) && p.checkPeek(token.DOT) && p.checkPeek2(token.STAR) {
		item.TableStar = p.token.Literal
		p.nextToken() // identifier
		p.nextToken() // DOT
		p.nextToken() // STAR
		return item
	}

	// alias = expr (T-SQL assignment-style aliasing)
	if p.check(token.IDENT) && p.checkPeek(token.EQ) {
		item.Alias = p.token.Literal
		p.nextToken()
		p.nextToken()
		item.Expr = p.parseExpression()
		return item
	}

	item.Expr = p.parseExpression()

	// Optional alias
	if p.match(token.AS) {
		if p.check(token.IDENT) || p.check(token.STRING) {
			item.Alias = p.token.Literal
			p.nextToken()
		} else {
			p.addError("expected alias after AS")
		}
	} else if p.check(token.IDENT) && !p.isKeyword(p.token) {
		item.Alias = p.token.Literal
		p.nextToken()
	}

	return item
}

// parseOrderByList parses ORDER BY items; direction keywords are consumed
// and discarded since ordering does not affect lineage.
func (p *Parser) parseOrderByList() []Expr {
	var exprs []Expr

	for {
		expr := p.parseExpression()
		exprs = append(exprs, expr)

		p.match(token.ASC)
		p.match(token.DESC)

		if !p.match(token.COMMA) {
			break
		}
	}

	return exprs
}

// parseExpressionList parses a comma-separated list of expressions.
func (p *Parser) parseExpressionList() []Expr {
	var exprs []Expr

	for {
		expr := p.parseExpression()
		exprs = append(exprs, expr)

		if !p.match(token.COMMA) {
			break
		}
	}

	return exprs
}

// parseInsert parses INSERT [INTO] target [(cols)] SELECT|VALUES.
func (p *Parser) parseInsert() Statement {
	p.expect(token.INSERT)
	p.match(token.INTO)

	stmt := &InsertStmt{}
	stmt.Target = p.parseObjectName()

	// Table hint: WITH (TABLOCK)
	if p.check(token.WITH) && p.checkPeek(token.LPAREN) {
		p.nextToken()
		p.skipParens()
	}

	if p.match(token.LPAREN) {
		stmt.Columns = p.parseIdentList()
	}

	// OUTPUT clause carries no source lineage; skip to the source
	if p.check(token.OUTPUT) {
		for !p.check(token.EOF) && !p.check(token.SELECT) && !p.check(token.VALUES) &&
			!p.check(token.SEMI) && !p.check(token.WITH) && !p.check(token.EXEC) {
			p.nextToken()
		}
	}

	switch p.token.Type {
	case token.SELECT, token.WITH:
		stmt.Select = p.parseSelectBodyStmt()
	case token.VALUES:
		p.nextToken()
		for {
			p.expect(token.LPAREN)
			row := p.parseExpressionList()
			p.expect(token.RPAREN)
			stmt.Rows = append(stmt.Rows, row)
			if !p.match(token.COMMA) {
				break
			}
		}
	case token.EXEC:
		// INSERT ... EXEC: source columns are opaque
		p.skipStatement()
	default:
		p.addError("expected SELECT or VALUES after INSERT target")
	}

	return stmt
}

// parseUpdate parses UPDATE target SET ... [FROM ...] [WHERE ...].
func (p *Parser) parseUpdate() Statement {
	p.expect(token.UPDATE)

	if p.match(token.TOP) {
		p.skipParens()
		p.match(token.PERCENT)
	}

	stmt := &UpdateStmt{}
	stmt.Target = p.parseObjectName()

	p.expect(token.SET)
	stmt.Sets = p.parseSetClauses()

	if p.check(token.OUTPUT) {
		for !p.check(token.EOF) && !p.check(token.FROM) && !p.check(token.WHERE) && !p.check(token.SEMI) {
			p.nextToken()
		}
	}

	if p.match(token.FROM) {
		stmt.From = p.parseFromClause()
	}

	if p.match(token.WHERE) {
		stmt.Where = p.parseExpression()
	}

	if p.match(token.OPTION) {
		p.skipParens()
	}

	return stmt
}

// parseSetClauses parses SET col = expr [, col = expr]*.
func (p *Parser) parseSetClauses() []SetClause {
	var sets []SetClause

	for {
		set := SetClause{}

		if p.check(token.VARIABLE) {
			// SET @v = expr inside UPDATE: consume, no column target
			p.nextToken()
			if p.match(token.EQ) || p.match(token.PLUSEQ) || p.match(token.MINUSEQ) {
				p.parseExpression()
			}
			if !p.match(token.COMMA) {
				break
			}
			continue
		}

		name := p.parseObjectName()
		set.Column = columnRefFromName(name)

		if !p.match(token.EQ) && !p.match(token.PLUSEQ) && !p.match(token.MINUSEQ) {
			p.addError("expected = in SET clause")
			break
		}

		set.Value = p.parseExpression()
		sets = append(sets, set)

		if !p.match(token.COMMA) {
			break
		}
	}

	return sets
}

// columnRefFromName converts a dotted name into a column reference: the
// last part is the column, everything before it the qualifier.
func columnRefFromName(name *ObjectName) *ColumnRef {
	ref := &ColumnRef{Column: name.Name()}
	if len(name.Parts) > 1 {
		ref.Table = strings.Join(name.Parts[:len(name.Parts)-1], ".")
	}
	return ref
}

// parseDelete parses DELETE [FROM] target [FROM ...] [WHERE ...].
func (p *Parser) parseDelete() Statement {
	p.expect(token.DELETE)

	if p.match(token.TOP) {
		p.skipParens()
		p.match(token.PERCENT)
	}

	p.match(token.FROM)

	stmt := &DeleteStmt{}
	stmt.Target = p.parseObjectName()

	if p.check(token.OUTPUT) {
		for !p.check(token.EOF) && !p.check(token.FROM) && !p.check(token.WHERE) && !p.check(token.SEMI) {
			p.nextToken()
		}
	}

	if p.match(token.FROM) {
		stmt.From = p.parseFromClause()
	}

	if p.match(token.WHERE) {
		stmt.Where = p.parseExpression()
	}

	return stmt
}

// parseMerge parses a MERGE statement with its action clauses.
func (p *Parser) parseMerge() Statement {
	p.expect(token.MERGE)

	if p.match(token.TOP) {
		p.skipParens()
		p.match(token.PERCENT)
	}

	p.match(token.INTO)

	stmt := &MergeStmt{}
	stmt.Target = p.parseObjectName()

	if p.match(token.AS) {
		if p.check(token.IDENT) {
			stmt.TargetAlias = p.token.Literal
			p.nextToken()
		}
	} else if p.check(token.IDENT) && !p.isKeyword(p.token) {
		stmt.TargetAlias = p.token.Literal
		p.nextToken()
	}

	p.expect(token.USING)
	stmt.Source = p.parseTableRef()

	p.expect(token.ON)
	stmt.On = p.parseExpression()

	for p.match(token.WHEN) {
		action := p.parseMergeAction()
		if action != nil {
			stmt.Actions = append(stmt.Actions, action)
		}
	}

	return stmt
}

// parseMergeAction parses one [NOT] MATCHED [BY SOURCE|TARGET] [AND expr]
// THEN action clause. The WHEN has already been consumed.
func (p *Parser) parseMergeAction() *MergeAction {
	action := &MergeAction{Matched: true}

	if p.match(token.NOT) {
		action.Matched = false
	}
	p.expect(token.MATCHED)

	if p.match(token.BY) {
		if p.matchIdent("source") {
			action.BySource = true
		} else if p.matchIdent("target") {
			// default direction, nothing to record
		} else {
			p.addError("expected SOURCE or TARGET after BY")
		}
	}

	// Additional predicate: WHEN MATCHED AND ... THEN
	if p.match(token.AND) {
		p.parseExpression()
	}

	p.expect(token.THEN)

	switch p.token.Type {
	case token.UPDATE:
		p.nextToken()
		p.expect(token.SET)
		action.Kind = MergeUpdate
		action.Sets = p.parseSetClauses()
	case token.INSERT:
		p.nextToken()
		action.Kind = MergeInsert
		if p.match(token.LPAREN) {
			action.Columns = p.parseIdentList()
		}
		if p.match(token.VALUES) {
			p.expect(token.LPAREN)
			action.Values = p.parseExpressionList()
			p.expect(token.RPAREN)
		} else {
			// INSERT DEFAULT VALUES
			p.matchIdent("default")
			p.match(token.VALUES)
		}
	case token.DELETE:
		p.nextToken()
		action.Kind = MergeDelete
	default:
		p.addError("expected UPDATE, INSERT or DELETE in MERGE action")
		return nil
	}

	return action
}

// parseTruncate parses TRUNCATE TABLE target.
func (p *Parser) parseTruncate() Statement {
	p.expect(token.TRUNCATE)
	p.expect(token.TABLE)
	return &TruncateStmt{Target: p.parseObjectName()}
}

// parseDropTable parses DROP TABLE [IF EXISTS] targets.
func (p *Parser) parseDropTable() Statement {
	p.expect(token.DROP)
	p.expect(token.TABLE)

	if p.check(token.IF) && p.checkPeek(token.EXISTS) {
		p.nextToken()
		p.nextToken()
	}

	stmt := &DropTableStmt{}
	for {
		stmt.Targets = append(stmt.Targets, p.parseObjectName())
		if !p.match(token.COMMA) {
			break
		}
	}
	return stmt
}

// parseCreateTable parses CREATE TABLE name (column defs ...).
// Constraint definitions are consumed without producing columns.
func (p *Parser) parseCreateTable() Statement {
	p.expect(token.CREATE)
	p.expect(token.TABLE)

	stmt := &CreateTableStmt{}
	stmt.Name = p.parseObjectName()

	if !p.expect(token.LPAREN) {
		return stmt
	}

	for !p.check(token.RPAREN) && !p.check(token.EOF) {
		if p.check(token.IDENT) && isConstraintWord(p.token.Literal) {
			p.skipTableElement()
		} else if p.check(token.IDENT) {
			col := ColumnDef{Name: p.token.Literal}
			p.nextToken()
			col.TypeName = p.parseTypeName()
			stmt.Columns = append(stmt.Columns, col)
			// Column constraints, defaults, identity specs
			p.skipTableElement()
		} else {
			p.skipTableElement()
		}

		if !p.match(token.COMMA) {
			break
		}
	}
	p.expect(token.RPAREN)

	return stmt
}

// isConstraintWord reports whether a CREATE TABLE element head introduces a
// table-level constraint rather than a column.
func isConstraintWord(word string) bool {
	switch strings.ToLower(word) {
	case "constraint", "primary", "unique", "check", "foreign", "index":
		return true
	}
	return false
}

// skipTableElement skips to the next comma or closing paren at depth zero.
func (p *Parser) skipTableElement() {
	depth := 0
	for !p.check(token.EOF) {
		switch p.token.Type {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			if depth == 0 {
				return
			}
			depth--
		case token.COMMA:
			if depth == 0 {
				return
			}
		}
		p.nextToken()
	}
}

// parseCreateProc parses CREATE PROC[EDURE] name ... AS body.
func (p *Parser) parseCreateProc() Statement {
	p.expect(token.CREATE)
	p.nextToken() // PROC or PROCEDURE

	stmt := &CreateProcStmt{}
	stmt.Name = p.parseObjectName()

	// Parameter declarations and options, up to AS at depth zero
	depth := 0
	for !p.check(token.EOF) {
		if p.check(token.AS) && depth == 0 {
			p.nextToken()
			break
		}
		switch p.token.Type {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			depth--
		}
		p.nextToken()
	}

	stmt.Body = p.parseStatementList(token.EOF)

	return stmt
}

// parseIf parses IF cond block [ELSE block].
func (p *Parser) parseIf() Statement {
	p.expect(token.IF)

	stmt := &IfStmt{}
	stmt.Cond = p.parseExpression()
	stmt.Then = p.parseBlockOrSingle()

	if p.match(token.ELSE) {
		stmt.Else = p.parseBlockOrSingle()
	}

	return stmt
}

// parseWhile parses WHILE cond block.
func (p *Parser) parseWhile() Statement {
	p.expect(token.WHILE)

	stmt := &WhileStmt{}
	stmt.Cond = p.parseExpression()
	stmt.Body = p.parseBlockOrSingle()

	return stmt
}

// parseBlockOrSingle parses either a BEGIN...END block or a single
// statement, returning the contained statements.
func (p *Parser) parseBlockOrSingle() []Statement {
	if p.check(token.BEGIN) && !p.beginsTransaction() {
		p.nextToken()
		stmts := p.parseStatementList(token.END)
		p.expect(token.END)
		return stmts
	}

	before := p.token
	stmt := p.parseStatement()
	if stmt != nil {
		return []Statement{stmt}
	}
	if p.token == before {
		p.skipStatement()
	}
	return nil
}
