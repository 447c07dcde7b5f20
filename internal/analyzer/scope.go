package analyzer

import "strings"

// entryKind classifies what an alias is bound to.
type entryKind int

const (
	entryTable entryKind = iota
	entryCTE
	entryDerived
	entryTemp
)

// aliasEntry is one binding in an alias scope.
type aliasEntry struct {
	kind    entryKind
	table   string   // resolved underlying name; for derived tables the alias itself
	columns []string // known columns, empty when no schema info is available
}

// aliasScope is one alias environment. Registration order is kept so that
// unqualified SELECT * expands tables in FROM order.
type aliasScope struct {
	entries map[string]*aliasEntry
	order   []string
}

// ScopeStack holds the lexically nested environments of the analyzer:
// alias scopes and CTE scopes are stacks pushed per statement/WITH block;
// the temp-table schema map is flat because temp tables outlive the batch
// until dropped.
//
// All keys are canonicalized to lowercase. Popping an empty stack is an
// internal invariant violation and panics.
type ScopeStack struct {
	aliases []*aliasScope
	ctes    []map[string][]string
	temps   map[string][]string
}

// NewScopeStack creates an empty scope stack.
func NewScopeStack() *ScopeStack {
	return &ScopeStack{
		temps: make(map[string][]string),
	}
}

// PushAliasScope enters a new alias scope.
func (s *ScopeStack) PushAliasScope() {
	s.aliases = append(s.aliases, &aliasScope{entries: make(map[string]*aliasEntry)})
}

// PopAliasScope leaves the innermost alias scope.
func (s *ScopeStack) PopAliasScope() {
	if len(s.aliases) == 0 {
		panic("analyzer: pop of empty alias scope stack")
	}
	s.aliases = s.aliases[:len(s.aliases)-1]
}

// BindAlias registers an entry in the innermost alias scope.
func (s *ScopeStack) BindAlias(alias string, entry *aliasEntry) {
	if len(s.aliases) == 0 {
		panic("analyzer: alias binding with no open scope")
	}
	scope := s.aliases[len(s.aliases)-1]
	key := strings.ToLower(alias)
	if _, exists := scope.entries[key]; !exists {
		scope.order = append(scope.order, key)
	}
	scope.entries[key] = entry
}

// LookupAlias finds an alias binding, searching innermost scope outward.
func (s *ScopeStack) LookupAlias(name string) (*aliasEntry, bool) {
	key := strings.ToLower(name)
	for i := len(s.aliases) - 1; i >= 0; i-- {
		if entry, ok := s.aliases[i].entries[key]; ok {
			return entry, true
		}
	}
	return nil, false
}

// InnermostEntries returns the entries of the innermost alias scope in
// registration order.
func (s *ScopeStack) InnermostEntries() []*aliasEntry {
	if len(s.aliases) == 0 {
		return nil
	}
	scope := s.aliases[len(s.aliases)-1]
	entries := make([]*aliasEntry, 0, len(scope.order))
	for _, key := range scope.order {
		entries = append(entries, scope.entries[key])
	}
	return entries
}

// AllEntries returns all visible entries, innermost scope first, each
// scope in registration order.
func (s *ScopeStack) AllEntries() []*aliasEntry {
	var entries []*aliasEntry
	for i := len(s.aliases) - 1; i >= 0; i-- {
		scope := s.aliases[i]
		for _, key := range scope.order {
			entries = append(entries, scope.entries[key])
		}
	}
	return entries
}

// PushCTEScope enters a new CTE scope.
func (s *ScopeStack) PushCTEScope() {
	s.ctes = append(s.ctes, make(map[string][]string))
}

// PopCTEScope leaves the innermost CTE scope.
func (s *ScopeStack) PopCTEScope() {
	if len(s.ctes) == 0 {
		panic("analyzer: pop of empty CTE scope stack")
	}
	s.ctes = s.ctes[:len(s.ctes)-1]
}

// BindCTE registers a CTE in the innermost CTE scope.
func (s *ScopeStack) BindCTE(name string, columns []string) {
	if len(s.ctes) == 0 {
		panic("analyzer: CTE binding with no open scope")
	}
	s.ctes[len(s.ctes)-1][strings.ToLower(name)] = columns
}

// LookupCTE finds a CTE binding, searching innermost scope outward.
func (s *ScopeStack) LookupCTE(name string) ([]string, bool) {
	key := strings.ToLower(name)
	for i := len(s.ctes) - 1; i >= 0; i-- {
		if cols, ok := s.ctes[i][key]; ok {
			return cols, true
		}
	}
	return nil, false
}

// IsCTE reports whether the name is bound in any active CTE scope.
func (s *ScopeStack) IsCTE(name string) bool {
	_, ok := s.LookupCTE(name)
	return ok
}

// DefineTemp records a temp table schema. Redefinition replaces the
// previous column list (drop-and-recreate is common in procedure bodies).
func (s *ScopeStack) DefineTemp(name string, columns []string) {
	s.temps[strings.ToLower(name)] = columns
}

// ColumnsOfTemp returns the recorded columns of a temp table.
func (s *ScopeStack) ColumnsOfTemp(name string) ([]string, bool) {
	cols, ok := s.temps[strings.ToLower(name)]
	return cols, ok
}

// DropTemp forgets a temp table schema.
func (s *ScopeStack) DropTemp(name string) {
	delete(s.temps, strings.ToLower(name))
}
