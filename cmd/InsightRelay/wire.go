//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"InsightRelay/internal/biz"
	"InsightRelay/internal/conf"
	"InsightRelay/internal/data"
	"InsightRelay/internal/server"
	"InsightRelay/internal/service"
	"InsightRelay/pkg/metrics"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Resilience, *conf.Auth, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		metrics.ProviderSet,
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newMaintenance,
		newApp,
	))
}
