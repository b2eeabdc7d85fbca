package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paymirror/internal/clock"
	"github.com/smallbiznis/paymirror/internal/config"
	"github.com/smallbiznis/paymirror/internal/migration"
	"github.com/smallbiznis/paymirror/internal/observability"
	"github.com/smallbiznis/paymirror/internal/scheduler"
	"github.com/smallbiznis/paymirror/internal/server"
	"github.com/smallbiznis/paymirror/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
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
