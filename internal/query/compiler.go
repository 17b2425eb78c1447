package query

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParamPrefix is the placeholder sigil for named parameters.
const ParamPrefix = "$"

// Param is one named parameter of a compiled predicate.
type Param struct {
	Name  string
	Value any
}

// Where is a compiled predicate with its parameters in emission order.
type Where struct {
	SQL    string
	Params []Param
}

// Empty reports whether the predicate filters nothing.
func (w Where) Empty() bool { return w.SQL == "" }

// Args returns the parameters as sql.Named values for database/sql.
func (w Where) Args() []any {
	args := make([]any, len(w.Params))
	for i, p := range w.Params {
		args[i] = sql.Named(p.Name, p.Value)
	}
	return args
}

// Values returns the parameter values keyed by name.
func (w Where) Values() map[string]any {
	out := make(map[string]any, len(w.Params))
	for _, p := range w.Params {
		out[p.Name] = p.Value
	}
	return out
}

var columns = func() map[string]string {
	m := make(map[string]string, len(Fields))
	for _, f := range Fields {
		m[f] = toSnake(f)
	}
	return m
}()

// Column maps a logical field name to its physical column. Known fields are
// converted from camelCase to snake_case; unknown names pass through.
func Column(name string) string {
	if c, ok := columns[name]; ok {
		return c
	}
	return name
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Compiler lowers filter expressions to parameterized SQL predicates.
//
// A Compiler reuses its buffers: all state is reset at the start of each
// Compile call, so one instance must not be used by concurrent callers.
// Use the package-level Compile for a fresh compiler per call.
type Compiler struct {
	buf    strings.Builder
	params []Param
}

// NewCompiler creates a Compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses input and lowers it. Blank input compiles to an empty
// Where.
func Compile(input string) (Where, error) {
	return NewCompiler().Compile(input)
}

// Compile parses input and lowers it to a predicate.
func (c *Compiler) Compile(input string) (Where, error) {
	node, err := Parse(input)
	if err != nil {
		return Where{}, err
	}
	return c.CompileNode(node)
}

// CompileNode lowers an already parsed AST.
func (c *Compiler) CompileNode(node Node) (Where, error) {
	c.reset()
	if node == nil {
		return Where{}, nil
	}
	if err := c.predicate(node); err != nil {
		c.reset()
		return Where{}, err
	}
	params := make([]Param, len(c.params))
	copy(params, c.params)
	return Where{SQL: c.buf.String(), Params: params}, nil
}

func (c *Compiler) reset() {
	c.buf.Reset()
	c.params = c.params[:0]
}

func (c *Compiler) bind(value any) string {
	name := "p" + strconv.Itoa(len(c.params))
	c.params = append(c.params, Param{Name: name, Value: value})
	return ParamPrefix + name
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSyntax}, args...)...)
}

// predicate lowers a node that stands in boolean position.
func (c *Compiler) predicate(n Node) error {
	switch n := n.(type) {
	case Binary:
		if n.IsLogical() {
			c.buf.WriteByte('(')
			if err := c.predicate(n.Left); err != nil {
				return err
			}
			c.buf.WriteString(" " + n.Op + " ")
			if err := c.predicate(n.Right); err != nil {
				return err
			}
			c.buf.WriteByte(')')
			return nil
		}
		return c.comparison(n)

	case Literal:
		// A bare value is a full-text match on the message.
		c.buf.WriteString(Column("message") + " LIKE " + c.bind("%"+n.Value+"%"))
		return nil

	case Member:
		if n.IsMetadata() {
			c.buf.WriteString("json_exists(" + Column(FieldMetadata) + ", " + c.bind(jsonPath(n.Key())) + ")")
			return nil
		}
		c.buf.WriteString(Column("message") + " LIKE " + c.bind("%"+n.Text()+"%"))
		return nil

	case Ident:
		return unsupported("field %q needs a comparison", n.Raw)

	default:
		return unsupported("unexpected node %T", n)
	}
}

func (c *Compiler) comparison(b Binary) error {
	if m, ok := b.Left.(Member); ok && m.IsMetadata() {
		return c.metadataComparison(m, b)
	}
	if id, ok := b.Left.(Ident); ok && id.Name == FieldMetadata && b.Op == OpHas {
		key, ok := literalText(b.Right)
		if !ok {
			return unsupported("'has' needs a key name")
		}
		c.buf.WriteString("json_exists(" + Column(FieldMetadata) + ", " + c.bind(jsonPath(key)) + ")")
		return nil
	}

	switch b.Op {
	case OpHas:
		return unsupported("'has' applies to metadata only")

	case OpContains:
		if err := c.operand(b.Left); err != nil {
			return err
		}
		c.buf.WriteString(" LIKE ")
		if text, ok := literalText(b.Right); ok {
			c.buf.WriteString(c.bind("%" + text + "%"))
			return nil
		}
		c.buf.WriteString("('%' || ")
		if err := c.operand(b.Right); err != nil {
			return err
		}
		c.buf.WriteString(" || '%')")
		return nil

	default:
		if err := c.operand(b.Left); err != nil {
			return err
		}
		c.buf.WriteString(" " + b.Op + " ")
		return c.operand(b.Right)
	}
}

func (c *Compiler) metadataComparison(m Member, b Binary) error {
	col := Column(FieldMetadata)
	switch b.Op {
	case OpHas:
		c.buf.WriteString("json_exists(" + col + ", " + c.bind(jsonPath(m.Key())) + ")")
		return nil

	case OpContains:
		text, ok := literalText(b.Right)
		if !ok {
			return unsupported("'contains' on metadata needs a value")
		}
		needle, err := json.Marshal(map[string]json.RawMessage{m.Key(): jsonValue(text, isQuoted(b.Right))})
		if err != nil {
			return unsupported("encoding metadata value: %v", err)
		}
		c.buf.WriteString("json_contains(" + col + ", " + c.bind(string(needle)) + ")")
		return nil

	case OpGt, OpLt, OpGte, OpLte:
		c.buf.WriteString("TRY_CAST(json_extract_string(" + col + ", " + c.bind(jsonPath(m.Key())) + ") AS DOUBLE) " + b.Op + " ")
		if text, ok := literalText(b.Right); ok {
			c.buf.WriteString("TRY_CAST(" + c.bind(text) + " AS DOUBLE)")
			return nil
		}
		c.buf.WriteString("TRY_CAST(")
		if err := c.operand(b.Right); err != nil {
			return err
		}
		c.buf.WriteString(" AS DOUBLE)")
		return nil

	default:
		c.buf.WriteString("json_extract_string(" + col + ", " + c.bind(jsonPath(m.Key())) + ") " + b.Op + " ")
		return c.operand(b.Right)
	}
}

// operand lowers a node that stands in value position.
func (c *Compiler) operand(n Node) error {
	switch n := n.(type) {
	case Ident:
		c.buf.WriteString(Column(n.Name))
		return nil
	case Literal:
		c.buf.WriteString(c.bind(n.Value))
		return nil
	case Member:
		if n.IsMetadata() {
			c.buf.WriteString("json_extract_string(" + Column(FieldMetadata) + ", " + c.bind(jsonPath(n.Key())) + ")")
			return nil
		}
		c.buf.WriteString(c.bind(n.Text()))
		return nil
	case nil:
		return unsupported("missing operand")
	default:
		return unsupported("unexpected operand %s", n)
	}
}

// literalText returns the text of a literal or of a non-metadata chain,
// which reads as a dotted literal such as 127.0.0.1 or 2.5.
func literalText(n Node) (string, bool) {
	switch n := n.(type) {
	case Literal:
		return n.Value, true
	case Member:
		if n.IsMetadata() {
			return "", false
		}
		return n.Text(), true
	}
	return "", false
}

func isQuoted(n Node) bool {
	l, ok := n.(Literal)
	return ok && l.Quoted
}

// jsonPath addresses a single top-level key, quoted so that dots in the
// flattened key are not treated as nesting.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// jsonValue types an unquoted number or boolean; everything else is a string.
func jsonValue(text string, quoted bool) json.RawMessage {
	if !quoted {
		if text == "true" || text == "false" {
			return json.RawMessage(text)
		}
		if _, err := strconv.ParseFloat(text, 64); err == nil && json.Valid([]byte(text)) {
			return json.RawMessage(text)
		}
	}
	b, _ := json.Marshal(text)
	return b
}
