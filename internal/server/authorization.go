package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// authorize checks the resolved viewer against the casbin policy for
// object and action.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := viewerFromGin(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), v, strings.TrimSpace(object), strings.TrimSpace(action)); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
