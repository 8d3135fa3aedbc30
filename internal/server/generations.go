package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type generateRequest struct {
	Period          string `json:"period"`
	AmountPerMember int64  `json:"amount_per_member"`
}

func (s *Server) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.generationSvc.Generate(c.Request.Context(), strings.TrimSpace(req.Period), req.AmountPerMember)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) GetGeneration(c *gin.Context) {
	batch, err := s.generationSvc.Get(c.Request.Context(), c.Param("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if batch == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}
