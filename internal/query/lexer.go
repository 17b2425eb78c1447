package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF         TokenType = iota
	TokenProperty              // known log entry field
	TokenValue                 // bare word or double-quoted span
	TokenConditional           // and, or
	TokenOperator              // = != > < >= <= contains has
	TokenDot
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenProperty:
		return "PROPERTY"
	case TokenValue:
		return "VALUE"
	case TokenConditional:
		return "CONDITIONAL"
	case TokenOperator:
		return "OPERATOR"
	case TokenDot:
		return "DOT"
	default:
		return fmt.Sprintf("TokenType(%d)", int(t))
	}
}

// Token represents a lexical token.
type Token struct {
	Type   TokenType
	Value  string // canonical form: field name, lower-case keyword, operator
	Raw    string // text as typed, without surrounding quotes
	Pos    int    // byte offset in the input
	Quoted bool
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%s %q", t.Type, t.Raw)
}

// Fields lists the log entry fields that the tokenizer recognizes as
// properties, by logical (camelCase) name.
var Fields = []string{
	"timestamp", "serviceName", "level", "message", "metadata",
	"traceId", "spanId", "hostname", "environment",
}

var fieldsByLower = func() map[string]string {
	m := make(map[string]string, len(Fields))
	for _, f := range Fields {
		m[strings.ToLower(f)] = f
	}
	return m
}()

// symbolic operators, longest first.
var symbolOps = []string{">=", "<=", "!=", "=", ">", "<"}

// Lexer tokenizes filter expressions.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '"':
		return l.readQuoted()
	case '.':
		l.pos++
		return Token{Type: TokenDot, Value: ".", Raw: ".", Pos: start}, nil
	}

	if op := l.matchSymbol(); op != "" {
		l.pos += len(op)
		return Token{Type: TokenOperator, Value: op, Raw: op, Pos: start}, nil
	}

	return l.readWord(), nil
}

// Tokenize returns every token of input, ending with TokenEOF.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *Lexer) matchSymbol() string {
	rest := l.input[l.pos:]
	for _, op := range symbolOps {
		if strings.HasPrefix(rest, op) {
			return op
		}
	}
	return ""
}

// readQuoted reads a double-quoted span. There are no escape sequences: the
// span ends at the next double quote.
func (l *Lexer) readQuoted() (Token, error) {
	start := l.pos
	end := strings.IndexByte(l.input[start+1:], '"')
	if end < 0 {
		return Token{}, &SyntaxError{Pos: start, Msg: "unterminated quoted value"}
	}
	value := l.input[start+1 : start+1+end]
	l.pos = start + end + 2
	return Token{Type: TokenValue, Value: value, Raw: value, Pos: start, Quoted: true}, nil
}

func (l *Lexer) readWord() Token {
	start := l.pos
	for l.pos < len(l.input) && !l.atWordBoundary() {
		_, size := utf8.DecodeRuneInString(l.input[l.pos:])
		l.pos += size
	}
	word := l.input[start:l.pos]
	lower := strings.ToLower(word)

	switch lower {
	case "and", "or":
		return Token{Type: TokenConditional, Value: lower, Raw: word, Pos: start}
	case "contains", "has":
		return Token{Type: TokenOperator, Value: lower, Raw: word, Pos: start}
	}
	if field, ok := fieldsByLower[lower]; ok {
		return Token{Type: TokenProperty, Value: field, Raw: word, Pos: start}
	}
	return Token{Type: TokenValue, Value: word, Raw: word, Pos: start}
}

// atWordBoundary decodes a whole rune so multi-byte characters are never
// split.
func (l *Lexer) atWordBoundary() bool {
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '"', '.', '=', '<', '>':
		return true
	case '!':
		return l.pos+1 < len(l.input) && l.input[l.pos+1] == '='
	}
	return false
}
