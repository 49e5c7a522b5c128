// Package service implements the HTTP and gRPC facing services.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewGenerationService, NewHealthService)
