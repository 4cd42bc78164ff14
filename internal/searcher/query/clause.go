package query

import (
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/obras-search/internal/indexer/tokenizer"
)

// Presence controls how a clause restricts the hit set.
type Presence int

const (
	// Optional clauses are OR-ed together.
	Optional Presence = iota
	// Required clauses must all match.
	Required
	// Prohibited clauses must not match.
	Prohibited
)

// Clause is one term of an index query: [+|-]term[*][~N].
type Clause struct {
	Term     string
	Presence Presence
	Prefix   bool
	Fuzzy    int
}

// Key identifies the term expansion of the clause independently of its
// presence.
func (c Clause) Key() string {
	var b strings.Builder
	b.WriteString(c.Term)
	if c.Prefix {
		b.WriteByte('*')
	}
	if c.Fuzzy > 0 {
		b.WriteByte('~')
		b.WriteString(strconv.Itoa(c.Fuzzy))
	}
	return b.String()
}

// ParseIndexQuery splits an index query into clauses. Terms are folded the
// same way the index folds document text; a token that folds into several
// terms yields one clause per term with the same modifiers.
func ParseIndexQuery(s string) []Clause {
	var clauses []Clause
	for _, tok := range strings.Fields(s) {
		presence := Optional
		switch tok[0] {
		case '+':
			presence = Required
			tok = tok[1:]
		case '-':
			presence = Prohibited
			tok = tok[1:]
		}
		fuzzy := 0
		if i := strings.LastIndexByte(tok, '~'); i >= 0 {
			fuzzy = 1
			if n, err := strconv.Atoi(tok[i+1:]); err == nil && n >= 0 {
				fuzzy = n
			}
			tok = tok[:i]
		}
		prefix := strings.HasSuffix(tok, "*")
		tok = strings.TrimRight(tok, "*")
		for _, term := range tokenizer.Terms(tok) {
			clauses = append(clauses, Clause{
				Term:     term,
				Presence: presence,
				Prefix:   prefix,
				Fuzzy:    fuzzy,
			})
		}
	}
	return clauses
}
