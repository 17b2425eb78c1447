package query

import "fmt"

// Parser parses filter expressions into an AST.
//
// Grammar, lowest precedence first:
//
//	or         = and { "or" and }
//	and        = comparison { "and" comparison }
//	comparison = primary [ operator [ primary ] ]
//	primary    = ( PROPERTY | VALUE ) { "." ( PROPERTY | VALUE ) }
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses the input string and returns the AST root node.
// Blank input yields a nil node and no error.
func Parse(input string) (Node, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	if p.current().Type == TokenEOF {
		return nil, nil
	}

	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok.Type != TokenEOF {
		return nil, p.errorf(tok, "unexpected %s", tok)
	}
	return node, nil
}

func (p *Parser) current() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) isConditional(word string) bool {
	tok := p.current()
	return tok.Type == TokenConditional && tok.Value == word
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.isConditional("or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpOr, Left: left, Right: right}
	}

	return left, nil
}

// parseAnd handles AND expressions.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.isConditional("and") {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpAnd, Left: left, Right: right}
	}

	return left, nil
}

var operators = map[string]string{
	"=":        OpEq,
	"!=":       OpNeq,
	">":        OpGt,
	"<":        OpLt,
	">=":       OpGte,
	"<=":       OpLte,
	"contains": OpContains,
	"has":      OpHas,
}

// parseComparison handles "primary operator primary". A primary without an
// operator is returned as is.
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	tok := p.current()
	if tok.Type != TokenOperator {
		return left, nil
	}
	op := operators[tok.Value]
	p.advance()

	if op == OpHas {
		if next := p.current(); next.Type == TokenEOF || next.Type == TokenConditional {
			return Binary{Op: op, Left: left}, nil
		}
	}

	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return Binary{Op: op, Left: left, Right: right}, nil
}

// parsePrimary handles identifiers, values and member-access chains.
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current()

	var root Node
	switch tok.Type {
	case TokenProperty:
		root = Ident{Name: tok.Value, Raw: tok.Raw}
	case TokenValue:
		root = Literal{Value: tok.Value, Quoted: tok.Quoted}
	case TokenEOF:
		return nil, p.errorf(tok, "unexpected end of input, expected a field or value")
	default:
		return nil, p.errorf(tok, "unexpected %s, expected a field or value", tok)
	}
	p.advance()

	var path []string
	for p.current().Type == TokenDot {
		dot := p.current()
		p.advance()
		seg := p.current()
		if seg.Type != TokenProperty && seg.Type != TokenValue {
			return nil, p.errorf(dot, "missing member name after '.'")
		}
		path = append(path, seg.Raw)
		p.advance()
	}

	if len(path) == 0 {
		return root, nil
	}
	return Member{Root: root, Path: path}, nil
}
