package reconciler

import (
	"context"
	"errors"
	"sync"

	"github.com/smallbiznis/iuran/internal/dues/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidSession = errors.New("invalid_session")

type Params struct {
	fx.In

	Log  *zap.Logger
	Dues domain.Service
}

// Sessions binds views to the session that opened them so a logout or a
// navigation away tears all of them down together.
type Sessions struct {
	log *zap.Logger
	src Source

	mu    sync.Mutex
	views map[string]map[*View]struct{}
}

func NewSessions(p Params) *Sessions {
	return newSessions(p.Dues, p.Log)
}

func newSessions(src Source, log *zap.Logger) *Sessions {
	return &Sessions{
		log:   log.Named("reconciler.sessions"),
		src:   src,
		views: make(map[string]map[*View]struct{}),
	}
}

func (s *Sessions) Open(ctx context.Context, sessionID string, scope Scope) (*View, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}
	view, err := Open(ctx, s.src, scope, s.log.With(zap.String("session_id", sessionID)))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	bucket, ok := s.views[sessionID]
	if !ok {
		bucket = make(map[*View]struct{})
		s.views[sessionID] = bucket
	}
	bucket[view] = struct{}{}
	s.mu.Unlock()
	return view, nil
}

// Release closes one view and forgets it.
func (s *Sessions) Release(sessionID string, view *View) {
	s.mu.Lock()
	if bucket, ok := s.views[sessionID]; ok {
		delete(bucket, view)
		if len(bucket) == 0 {
			delete(s.views, sessionID)
		}
	}
	s.mu.Unlock()
	view.Close()
}

// CloseSession closes every view of sessionID and returns how many were open.
func (s *Sessions) CloseSession(sessionID string) int {
	s.mu.Lock()
	bucket := s.views[sessionID]
	delete(s.views, sessionID)
	s.mu.Unlock()

	for view := range bucket {
		view.Close()
	}
	if len(bucket) > 0 {
		s.log.Debug("session closed", zap.String("session_id", sessionID), zap.Int("views", len(bucket)))
	}
	return len(bucket)
}

// Count returns the number of open views across sessions.
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, bucket := range s.views {
		n += len(bucket)
	}
	return n
}

func (s *Sessions) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.views))
	for id := range s.views {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.CloseSession(id)
	}
}
