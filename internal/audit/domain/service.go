package domain

import (
	"context"
	"errors"
)

type ListAuditLogRequest struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	PageToken  string
	PageSize   int
}

type ListAuditLogResponse struct {
	AuditLogs     []AuditLog `json:"audit_logs"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

// Entry describes one audited action. Actor fields default to the viewer in
// the context.
type Entry struct {
	ActorType  string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Service interface {
	AuditLog(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidAction    = errors.New("invalid_action")
)
