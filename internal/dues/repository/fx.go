package repository

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/iuran/internal/docstore"
	"github.com/smallbiznis/iuran/internal/docstore/feed"
	"github.com/smallbiznis/iuran/internal/dues/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CollectionParams struct {
	fx.In

	Lc    fx.Lifecycle
	DB    *gorm.DB
	Log   *zap.Logger
	Redis *redis.Client `optional:"true"`
}

// ProvideCollection builds the dues collection and, when Redis is
// configured, runs the cross-process feed bridge for the app lifetime.
func ProvideCollection(p CollectionParams) *docstore.Collection[domain.Record] {
	hub := feed.NewHub[domain.Record](feed.DefaultSubscriberBuffer)
	opts := []docstore.Option[domain.Record]{docstore.WithLogger[domain.Record](p.Log)}

	bridge := feed.NewBridge(p.Redis, hub, domain.Collection, p.Log)
	if bridge != nil {
		opts = append(opts, docstore.WithBridge(bridge))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		p.Lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					if err := bridge.Run(ctx); err != nil {
						p.Log.Error("dues feed bridge stopped", zap.Error(err))
					}
				}()
				return nil
			},
			OnStop: func(stopCtx context.Context) error {
				cancel()
				select {
				case <-done:
				case <-stopCtx.Done():
				}
				return nil
			},
		})
	}

	return docstore.NewCollection(p.DB, domain.Collection, hub, opts...)
}
