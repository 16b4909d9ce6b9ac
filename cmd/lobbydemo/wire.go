//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/cory-johannsen/lobbylink/internal/app"
	"github.com/cory-johannsen/lobbylink/internal/config"
)

func initializeDemo(ctx context.Context, cfg config.Config) (*app.Demo, func(), error) {
	wire.Build(app.ProviderSet)
	return nil, nil, nil
}
