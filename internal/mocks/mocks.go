// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghosthand/internal/config"
	"github.com/xkilldash9x/ghosthand/internal/service"
)

// -- Component Factory Mock --

// MockComponentFactory mocks service.ComponentFactory.
type MockComponentFactory struct {
	mock.Mock
}

func (m *MockComponentFactory) Create(ctx context.Context, cfg *config.Config, opts service.Options, logger *zap.Logger) (*service.Components, error) {
	args := m.Called(ctx, cfg, opts, logger)
	var c *service.Components
	if v := args.Get(0); v != nil {
		c = v.(*service.Components)
	}
	return c, args.Error(1)
}
