package config

import (
	"github.com/rafaelgcostaa/adslibrary/pkg/db"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(
		Load,
		NewPricingHolder,
		func(cfg Config) db.Config { return cfg.DB },
	),
)
