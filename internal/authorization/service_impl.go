package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/iuran/internal/audit/domain"
	"github.com/smallbiznis/iuran/internal/viewer"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectDues       = "dues"
	ObjectGeneration = "generation"
	ObjectReport     = "report"
	ObjectAuditLog   = "audit_log"
	ObjectMember     = "member"
)

const (
	ActionDuesViewOwn   = "dues.view_own"
	ActionDuesSubmit    = "dues.submit_proof"
	ActionDuesViewAll   = "dues.view_all"
	ActionDuesApprove   = "dues.approve"
	ActionDuesReject    = "dues.reject"
	ActionDuesAmend     = "dues.amend"
	ActionDuesViewProof = "dues.view_proof"
	ActionGenerationRun = "generation.run"
	ActionReportView    = "report.view"
	ActionReportExport  = "report.export"
	ActionAuditLogView  = "audit_log.view"
	ActionMemberView    = "member.view"
	ActionMemberCreate  = "member.create"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, v viewer.Viewer, object string, action string) error {
	if err := v.Validate(); err != nil {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := v.Subject()
	if err := s.ensureGrouping(subject, "role:"+string(v.Role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, v, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject; the role comes from
// the gateway on each request and may change between requests.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, v viewer.Viewer, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		ActorType:  string(v.Role),
		ActorID:    v.UserID,
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": v.Subject(),
		},
	}); err != nil {
		s.log.Warn("failed to audit denied request", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:member", ObjectDues, ActionDuesViewOwn},
		{"role:member", ObjectDues, ActionDuesSubmit},

		{"role:admin", ObjectDues, ActionDuesViewAll},
		{"role:admin", ObjectDues, ActionDuesApprove},
		{"role:admin", ObjectDues, ActionDuesReject},
		{"role:admin", ObjectDues, ActionDuesAmend},
		{"role:admin", ObjectDues, ActionDuesViewProof},
		{"role:admin", ObjectGeneration, ActionGenerationRun},
		{"role:admin", ObjectReport, ActionReportView},
		{"role:admin", ObjectReport, ActionReportExport},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectMember, ActionMemberView},
		{"role:admin", ObjectMember, ActionMemberCreate},

		// scheduled jobs
		{"role:system", ObjectGeneration, ActionGenerationRun},
		{"role:system", ObjectDues, ActionDuesViewAll},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
