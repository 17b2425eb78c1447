package query

import "strings"

// Node is the interface implemented by all AST nodes.
type Node interface {
	node() // marker method
	String() string
}

// Ident references a log entry field by its logical name.
type Ident struct {
	Name string // canonical field name, e.g. "serviceName"
	Raw  string // as typed
}

func (Ident) node() {}

func (i Ident) String() string { return i.Name }

// Literal is a value supplied by the user.
type Literal struct {
	Value  string
	Quoted bool
}

func (Literal) node() {}

func (l Literal) String() string {
	if l.Quoted {
		return `"` + l.Value + `"`
	}
	return l.Value
}

// Member is a chain of '.'-separated segments after an identifier or value.
type Member struct {
	Root Node // Ident or Literal
	Path []string
}

func (Member) node() {}

func (m Member) String() string {
	return m.Root.String() + "." + strings.Join(m.Path, ".")
}

// Text joins the chain back into its dotted source form.
func (m Member) Text() string {
	var root string
	switch r := m.Root.(type) {
	case Ident:
		root = r.Raw
	case Literal:
		root = r.Value
	default:
		root = r.String()
	}
	return root + "." + strings.Join(m.Path, ".")
}

// IsMetadata reports whether the chain is rooted at the metadata field.
func (m Member) IsMetadata() bool {
	id, ok := m.Root.(Ident)
	return ok && id.Name == FieldMetadata
}

// Key is the flattened metadata key: the path segments joined with '.'.
// Nested objects are not traversed; "metadata.a.b" addresses key "a.b".
func (m Member) Key() string {
	return strings.Join(m.Path, ".")
}

// Binary operators.
const (
	OpAnd      = "AND"
	OpOr       = "OR"
	OpEq       = "="
	OpNeq      = "!="
	OpGt       = ">"
	OpLt       = "<"
	OpGte      = ">="
	OpLte      = "<="
	OpContains = "CONTAINS"
	OpHas      = "HAS"
)

// Binary is a logical or comparison expression. Right is nil only for a
// HAS comparison written without an operand.
type Binary struct {
	Op    string
	Left  Node
	Right Node
}

func (Binary) node() {}

func (b Binary) String() string {
	if b.Right == nil {
		return "(" + b.Left.String() + " " + b.Op + ")"
	}
	return "(" + b.Left.String() + " " + b.Op + " " + b.Right.String() + ")"
}

// IsLogical reports whether b combines two predicates.
func (b Binary) IsLogical() bool {
	return b.Op == OpAnd || b.Op == OpOr
}

// FieldMetadata is the logical name of the semi-structured metadata field.
const FieldMetadata = "metadata"
