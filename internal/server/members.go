package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	"go.uber.org/zap"
)

type createMemberRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Unit        string `json:"unit"`
}

func (s *Server) CreateMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	member, err := s.directorySvc.Create(c.Request.Context(), directorydomain.CreateMemberRequest{
		UserID:      strings.TrimSpace(req.UserID),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Unit:        strings.TrimSpace(req.Unit),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		if err := s.auditSvc.AuditLog(c.Request.Context(), auditdomain.Entry{
			Action:     "member.create",
			TargetType: "member",
			TargetID:   member.ID.String(),
			Metadata: map[string]any{
				"user_id": member.UserID,
				"unit":    member.Unit,
			},
		}); err != nil {
			s.log.Warn("audit member.create failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"data": member})
}

func (s *Server) ListMembers(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	members, err := s.directorySvc.ListMembers(c.Request.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": members})
}

