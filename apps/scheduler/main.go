package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/audit"
	"github.com/smallbiznis/iuran/internal/blobstore"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/config"
	"github.com/smallbiznis/iuran/internal/directory"
	"github.com/smallbiznis/iuran/internal/dues"
	"github.com/smallbiznis/iuran/internal/generation"
	"github.com/smallbiznis/iuran/internal/lock"
	"github.com/smallbiznis/iuran/internal/observability"
	"github.com/smallbiznis/iuran/internal/scheduler"
	"github.com/smallbiznis/iuran/pkg/db"
	"go.uber.org/fx"
)

// Standalone generation worker for deployments that keep the cron out of the
// API processes. Run it with SCHEDULER_ENABLED=true and REDIS_ADDR set so
// replicas share the generation lock.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Domain services required by scheduler
		audit.Module,
		blobstore.Module,
		directory.Module,
		dues.Module,
		generation.Module,
		scheduler.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
