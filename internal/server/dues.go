package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
)

const proofFormField = "proof"

// multipart framing allowance on top of the proof size limit
const multipartOverhead = 64 << 10

type rejectDuesRequest struct {
	Reason string `json:"reason"`
}

type amendDuesRequest struct {
	Amount *int64  `json:"amount"`
	Status *string `json:"status"`
	Reason string  `json:"reason"`
}

func (s *Server) ListMyDues(c *gin.Context) {
	v, ok := viewerFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	records, err := s.duesSvc.ListForMember(c.Request.Context(), v.MemberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) SubmitProof(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	maxBytes := s.duesCfg.Get().Proof.MaxBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

	header, err := c.FormFile(proofFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, http.ErrMissingFile) {
			AbortWithError(c, duesdomain.ErrInvalidProof)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	file, err := header.Open()
	if err != nil {
		AbortWithError(c, duesdomain.ErrInvalidProof)
		return
	}
	defer file.Close()

	record, err := s.duesSvc.SubmitProof(c.Request.Context(), id, duesdomain.Proof{
		ContentType: strings.TrimSpace(header.Header.Get("Content-Type")),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ListPendingDues(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, err := s.duesSvc.ListPending(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) GetDues(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.duesSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ApproveDues(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.duesSvc.Approve(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) RejectDues(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req rejectDuesRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.duesSvc.Reject(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) AmendDues(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req amendDuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	patch := duesdomain.AmendPatch{
		Amount: req.Amount,
		Reason: strings.TrimSpace(req.Reason),
	}
	if req.Status != nil {
		status := duesdomain.Status(strings.ToUpper(strings.TrimSpace(*req.Status)))
		patch.Status = &status
	}

	record, err := s.duesSvc.Amend(c.Request.Context(), id, patch)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) GetProofURL(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	url, err := s.duesSvc.ProofURL(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"url": url}})
}

// ServeBlob streams a stored proof for deployments without a separate file
// server in front of the blob directory.
func (s *Server) ServeBlob(c *gin.Context) {
	body, contentType, err := s.blobs.Open(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer body.Close()

	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, -1, contentType, body, nil)
}
