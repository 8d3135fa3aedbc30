package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	duesdomain "github.com/smallbiznis/iuran/internal/dues/domain"
	"github.com/smallbiznis/iuran/internal/reconciler"
	"github.com/smallbiznis/iuran/internal/viewer"
	"go.uber.org/zap"
)

type snapshotEvent struct {
	Scope   string              `json:"scope"`
	Records []duesdomain.Record `json:"records"`
}

// StreamMyDues streams the caller's records, newest period first.
func (s *Server) StreamMyDues(c *gin.Context) {
	v, ok := viewerFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	if v.MemberID == 0 {
		AbortWithError(c, ErrForbidden)
		return
	}
	s.streamView(c, v, reconciler.MemberScope(v.MemberID))
}

// StreamPendingDues streams the validation queue, oldest submission first.
func (s *Server) StreamPendingDues(c *gin.Context) {
	v, ok := viewerFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	max := s.duesCfg.Get().Pending.MaxRecords
	if limit == 0 || limit > max {
		limit = max
	}
	s.streamView(c, v, reconciler.PendingQueueScope(limit))
}

// CloseSession tears down every live view opened under the session.
func (s *Server) CloseSession(c *gin.Context) {
	v, ok := viewerFromGin(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	raw := strings.TrimSpace(c.Param("session_id"))
	if raw == "" {
		AbortWithError(c, reconciler.ErrInvalidSession)
		return
	}
	closed := s.sessions.CloseSession(sessionKey(v, raw))
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

func (s *Server) streamView(c *gin.Context, v viewer.Viewer, scope reconciler.Scope) {
	raw := strings.TrimSpace(c.GetHeader(HeaderSessionID))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("session_id"))
	}
	if raw == "" {
		AbortWithError(c, reconciler.ErrInvalidSession)
		return
	}
	sessionID := sessionKey(v, raw)

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	view, err := s.sessions.Open(c.Request.Context(), sessionID, scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer s.sessions.Release(sessionID, view)

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	if err := writeSnapshot(writer, view); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-view.Done():
			s.log.Debug("view closed by session", zap.String("scope", scope.Name()))
			return
		case <-view.Changes():
			if err := writeSnapshot(writer, view); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sessionKey(v viewer.Viewer, raw string) string {
	return v.Subject() + "/" + raw
}

func writeSnapshot(w io.Writer, view *reconciler.View) error {
	records := view.Snapshot()
	if records == nil {
		records = []duesdomain.Record{}
	}
	data, err := json.Marshal(snapshotEvent{Scope: view.Scope().Name(), Records: records})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
