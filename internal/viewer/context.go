package viewer

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleSystem Role = "system"
)

var (
	ErrMissingViewer = errors.New("missing_viewer")
	ErrInvalidRole   = errors.New("invalid_role")
)

// Viewer is the caller an operation runs on behalf of. MemberID is resolved
// from the directory for member viewers and is zero for admins and the system.
type Viewer struct {
	UserID   string
	Role     Role
	MemberID snowflake.ID
}

func (v Viewer) IsAdmin() bool {
	return v.Role == RoleAdmin || v.Role == RoleSystem
}

// Subject is the casbin subject string for the viewer.
func (v Viewer) Subject() string {
	if v.Role == RoleSystem {
		return "system"
	}
	return "user:" + v.UserID
}

func (v Viewer) Validate() error {
	switch v.Role {
	case RoleAdmin, RoleMember:
		if strings.TrimSpace(v.UserID) == "" {
			return ErrMissingViewer
		}
		return nil
	case RoleSystem:
		return nil
	default:
		return ErrInvalidRole
	}
}

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleMember:
		return RoleMember, nil
	default:
		return "", ErrInvalidRole
	}
}

type viewerKey struct{}

// WithViewer stores the viewer in the context.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, viewerKey{}, v)
}

// FromContext returns the viewer from context, if set.
func FromContext(ctx context.Context) (Viewer, bool) {
	if ctx == nil {
		return Viewer{}, false
	}
	v, ok := ctx.Value(viewerKey{}).(Viewer)
	if !ok || v.Role == "" {
		return Viewer{}, false
	}
	return v, true
}

// System returns a context acting as the scheduler/system actor.
func System(ctx context.Context) context.Context {
	return WithViewer(ctx, Viewer{UserID: "scheduler", Role: RoleSystem})
}
