package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	obscontext "github.com/smallbiznis/iuran/internal/observability/context"
	"github.com/smallbiznis/iuran/internal/viewer"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderSessionID = "X-Session-ID"
)

// ViewerRequired resolves the caller from the identity headers set by the
// fronting gateway. Member viewers are bound to their directory entry.
func (s *Server) ViewerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		role, err := viewer.ParseRole(c.GetHeader(HeaderUserRole))
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		v := viewer.Viewer{UserID: userID, Role: role}
		if role == viewer.RoleMember {
			member, err := s.directorySvc.FindByUserID(c.Request.Context(), userID)
			if err != nil {
				if errors.Is(err, directorydomain.ErrNotFound) {
					AbortWithError(c, ErrForbidden)
					return
				}
				AbortWithError(c, err)
				return
			}
			if !member.Active {
				AbortWithError(c, ErrForbidden)
				return
			}
			v.MemberID = member.ID
		}

		ctx := viewer.WithViewer(c.Request.Context(), v)
		ctx = obscontext.WithActor(ctx, string(v.Role), v.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func viewerFromGin(c *gin.Context) (viewer.Viewer, bool) {
	return viewer.FromContext(c.Request.Context())
}
