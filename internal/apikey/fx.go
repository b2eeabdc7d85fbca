package apikey

import (
	"context"

	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
	"github.com/smallbiznis/paymirror/internal/apikey/repository"
	"github.com/smallbiznis/paymirror/internal/apikey/service"
	"github.com/smallbiznis/paymirror/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(registerBootstrap),
)

func registerBootstrap(lc fx.Lifecycle, cfg config.Config, svc apikeydomain.Service) {
	if !cfg.Bootstrap.EnsureOperatorKey {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.EnsureBootstrapKey(ctx)
		},
	})
}
