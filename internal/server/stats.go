package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type statsResponse struct {
	ActiveMembers     int64 `json:"active_members"`
	PendingValidation int64 `json:"pending_validation"`
}

func (s *Server) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	members, err := s.directorySvc.CountMembers(ctx, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pending, err := s.duesSvc.CountPending(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": statsResponse{
		ActiveMembers:     members,
		PendingValidation: pending,
	}})
}
