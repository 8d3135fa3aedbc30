package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/iuran/internal/clock"
	"github.com/smallbiznis/iuran/internal/config"
	"github.com/smallbiznis/iuran/internal/lock"
	"github.com/smallbiznis/iuran/internal/migration"
	"github.com/smallbiznis/iuran/internal/observability"
	"github.com/smallbiznis/iuran/internal/scheduler"
	"github.com/smallbiznis/iuran/internal/seed"
	"github.com/smallbiznis/iuran/internal/server"
	"github.com/smallbiznis/iuran/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		migration.Module,
		seed.Module,

		// HTTP API; pulls in the domain services
		server.Module,

		// Monthly dues generation, off unless SCHEDULER_ENABLED is set
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
