package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mordomozap/internal/clock"
	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/smallbiznis/mordomozap/internal/connection"
	"github.com/smallbiznis/mordomozap/internal/gateway"
	"github.com/smallbiznis/mordomozap/internal/integration"
	"github.com/smallbiznis/mordomozap/internal/migration"
	"github.com/smallbiznis/mordomozap/internal/observability"
	"github.com/smallbiznis/mordomozap/internal/ratelimit"
	"github.com/smallbiznis/mordomozap/internal/reconciler"
	"github.com/smallbiznis/mordomozap/internal/server"
	"github.com/smallbiznis/mordomozap/internal/session"
	"github.com/smallbiznis/mordomozap/pkg/db"
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
		migration.Module,

		// Connection lifecycle
		integration.Module,
		gateway.Module,
		ratelimit.Module,
		connection.Module,
		session.Module,
		reconciler.Module,

		server.Module,
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
