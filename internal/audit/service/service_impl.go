package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/clock"
	obscontext "github.com/smallbiznis/iuran/internal/observability/context"
	"github.com/smallbiznis/iuran/internal/viewer"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) AuditLog(ctx context.Context, in auditdomain.Entry) error {
	action := strings.TrimSpace(in.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(in.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := resolveActor(ctx, strings.TrimSpace(in.ActorType), strings.TrimSpace(in.ActorID))

	payload := datatypes.JSONMap{}
	for key, value := range in.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(in.TargetID),
		Metadata:   payload,
		RequestID:  optional(obscontext.RequestIDFromContext(ctx)),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	var before *snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		id, err := snowflake.ParseBase58([]byte(token))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		before = &id
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		Before:     before,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: items}
	if len(items) > pageSize {
		resp.AuditLogs = items[:pageSize]
		resp.NextPageToken = resp.AuditLogs[pageSize-1].ID.Base58()
	}
	if resp.AuditLogs == nil {
		resp.AuditLogs = []auditdomain.AuditLog{}
	}
	return resp, nil
}

func resolveActor(ctx context.Context, actorType, actorID string) (string, string) {
	if actorType != "" {
		return actorType, actorID
	}
	if v, ok := viewer.FromContext(ctx); ok {
		if actorID == "" {
			actorID = v.UserID
		}
		return string(v.Role), actorID
	}
	if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
		if actorID == "" {
			actorID = ctxID
		}
		return ctxType, actorID
	}
	return string(auditdomain.ActorTypeSystem), actorID
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
