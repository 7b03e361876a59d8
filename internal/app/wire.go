//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"tradefloor/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(
		provideBuilder,
		wire.Bind(new(builderDeps), new(*Builder)),
		provideAppFromBuilder,
	)
	return nil, nil
}
