package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rafaelgcostaa/adslibrary/internal/clock"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
	"github.com/rafaelgcostaa/adslibrary/internal/migration"
	"github.com/rafaelgcostaa/adslibrary/internal/observability"
	"github.com/rafaelgcostaa/adslibrary/internal/server"
	"github.com/rafaelgcostaa/adslibrary/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		// Ledger, metering, views and the HTTP surface
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
