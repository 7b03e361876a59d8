//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject

package app

import (
	"context"

	"tradefloor/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	builder := provideBuilder(cfg)
	app, err := provideAppFromBuilder(builder, ctx)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type builderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b builderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideBuilder(cfg *config.Config) *Builder {
	return NewBuilder(cfg)
}
