package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/directory/domain"
	"github.com/smallbiznis/iuran/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("directory.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateMemberRequest) (domain.Member, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return domain.Member{}, domain.ErrInvalidName
	}

	var userID *string
	if trimmed := strings.TrimSpace(req.UserID); trimmed != "" {
		existing, err := s.repo.FindByUserID(ctx, s.db, trimmed)
		if err != nil {
			return domain.Member{}, err
		}
		if existing != nil {
			return domain.Member{}, domain.ErrUserIDTaken
		}
		userID = &trimmed
	}

	member := domain.Member{
		ID:          s.genID.Generate(),
		UserID:      userID,
		DisplayName: name,
		Unit:        strings.TrimSpace(req.Unit),
		Active:      true,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &member); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Member{}, domain.ErrUserIDTaken
		}
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	return member, nil
}

func (s *Service) ListMembers(ctx context.Context, activeOnly bool) ([]domain.Member, error) {
	return s.repo.List(ctx, s.db, activeOnly)
}

func (s *Service) CountMembers(ctx context.Context, activeOnly bool) (int64, error) {
	return s.repo.Count(ctx, s.db, activeOnly)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Member, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) FindByUserID(ctx context.Context, userID string) (domain.Member, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Member{}, domain.ErrInvalidUserID
	}
	item, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Member{}, err
	}
	if item == nil {
		return domain.Member{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Names(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]domain.Member, error) {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	unique := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	members, err := s.repo.FindByIDs(ctx, s.db, unique)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]domain.Member, len(members))
	for _, m := range members {
		out[m.ID] = m
	}
	return out, nil
}
