package inventory

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrTableNotAllowed = errors.New("table not allowed")

	leafPattern = regexp.MustCompile(`^[a-z0-9]+$`)
)

const tablePrefix = "data_"

// TableRef names one physical inventory table. The zero value is not a valid
// table; the only constructor is ResolveTable.
type TableRef struct {
	category Category
	leaf     string
}

// ResolveTable is the single place where a table name is derived from a
// category and a leaf selection: data_{category}_{leaf}, lower-cased.
func ResolveTable(category Category, leaf string) (TableRef, error) {
	if _, err := SchemaFor(category); err != nil {
		return TableRef{}, fmt.Errorf("%w: %v", ErrTableNotAllowed, err)
	}
	leaf = strings.ToLower(strings.TrimSpace(leaf))
	if !leafPattern.MatchString(leaf) {
		return TableRef{}, fmt.Errorf("%w: invalid leaf %q", ErrTableNotAllowed, leaf)
	}
	return TableRef{category: category, leaf: leaf}, nil
}

// ParseTableName is the inverse of ResolveTable for names returned by the store
func ParseTableName(name string) (TableRef, bool) {
	rest, ok := strings.CutPrefix(strings.ToLower(name), tablePrefix)
	if !ok {
		return TableRef{}, false
	}
	category, leaf, ok := strings.Cut(rest, "_")
	if !ok {
		return TableRef{}, false
	}
	ref, err := ResolveTable(Category(category), leaf)
	if err != nil {
		return TableRef{}, false
	}
	return ref, true
}

func (t TableRef) Name() string {
	if t.IsZero() {
		return ""
	}
	return tablePrefix + string(t.category) + "_" + t.leaf
}

func (t TableRef) Category() Category { return t.category }
func (t TableRef) Leaf() string       { return t.leaf }
func (t TableRef) IsZero() bool       { return t.leaf == "" }
func (t TableRef) String() string     { return t.Name() }
