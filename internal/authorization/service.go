package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/iuran/internal/viewer"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	Authorize(ctx context.Context, v viewer.Viewer, object string, action string) error
}
