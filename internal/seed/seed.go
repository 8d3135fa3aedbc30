package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/config"
	directorydomain "github.com/smallbiznis/iuran/internal/directory/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(run),
)

type demoMember struct {
	userID string
	name   string
	unit   string
}

var demoMembers = []demoMember{
	{userID: "demo-member-1", name: "Budi Santoso", unit: "A-01"},
	{userID: "demo-member-2", name: "Siti Rahma", unit: "A-02"},
	{userID: "demo-member-3", name: "Agus Wijaya", unit: "B-01"},
}

func run(cfg config.Config, db *gorm.DB, node *snowflake.Node, log *zap.Logger) error {
	if !cfg.SeedDemo {
		return nil
	}
	if cfg.IsProduction() {
		log.Warn("SEED_DEMO ignored in production")
		return nil
	}
	created, err := EnsureDemoMembers(context.Background(), db, node)
	if err != nil {
		return err
	}
	log.Info("demo members seeded", zap.Int("created", created))
	return nil
}

// EnsureDemoMembers inserts the demo households whose user ids are not in the
// directory yet and returns how many it created.
func EnsureDemoMembers(ctx context.Context, db *gorm.DB, node *snowflake.Node) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, demo := range demoMembers {
			var existing directorydomain.Member
			err := tx.Where("user_id = ?", demo.userID).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			userID := demo.userID
			member := directorydomain.Member{
				ID:          node.Generate(),
				UserID:      &userID,
				DisplayName: demo.name,
				Unit:        demo.unit,
				Active:      true,
				CreatedAt:   now,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}
