package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/config"
	"github.com/tallyworks/tallyd/internal/counter"
	"github.com/tallyworks/tallyd/internal/migration"
	"github.com/tallyworks/tallyd/internal/observability"
	"github.com/tallyworks/tallyd/internal/ratelimit"
	"github.com/tallyworks/tallyd/internal/seed"
	"github.com/tallyworks/tallyd/internal/server"
	"github.com/tallyworks/tallyd/internal/topology"
	"github.com/tallyworks/tallyd/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		topology.Module,
		ratelimit.Module,

		counter.Module,
		seed.Module,

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
