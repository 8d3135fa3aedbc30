package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/iuran/pkg/db"
	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("document_not_found")
	ErrConflict    = errors.New("document_conflict")
	ErrDuplicate   = errors.New("document_duplicate")
	ErrUnavailable = errors.New("store_unavailable")
)

// Classify maps driver errors onto the store error kinds. Errors that do
// not match a kind are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrDuplicate), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case db.IsDuplicateKeyErr(err):
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), db.IsTransientErr(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}
