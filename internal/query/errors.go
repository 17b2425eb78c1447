package query

import (
	"errors"
	"fmt"
)

// ErrSyntax is matched by every error the compiler returns for malformed
// or unsupported input.
var ErrSyntax = errors.New("query syntax error")

// SyntaxError reports malformed query input at a byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query: syntax error at position %d: %s", e.Pos, e.Msg)
}

// Unwrap lets errors.Is(err, ErrSyntax) match.
func (e *SyntaxError) Unwrap() error { return ErrSyntax }
