package duckdb

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStorage marks failures reported by the database.
	ErrStorage = errors.New("storage error")
	// ErrCancelled marks operations abandoned because their context ended.
	// Errors carrying it also wrap context.Canceled or context.DeadlineExceeded.
	ErrCancelled = errors.New("operation cancelled")
)

// classify wraps err from op with ErrCancelled when ctx has ended, or with
// ErrStorage otherwise.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrStorage) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		if errors.Is(err, cerr) {
			return fmt.Errorf("%s: %w: %w", op, ErrCancelled, err)
		}
		return fmt.Errorf("%s: %w: %w (%v)", op, ErrCancelled, cerr, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrCancelled, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
