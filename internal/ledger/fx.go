package ledger

import (
	"github.com/rafaelgcostaa/adslibrary/internal/ledger/repository"
	"github.com/rafaelgcostaa/adslibrary/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
