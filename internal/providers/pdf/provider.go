package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type Provider interface {
	GenerateArrears(ctx context.Context, data ArrearsData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateArrears(ctx context.Context, data ArrearsData) (io.Reader, error) {
	return nil, nil
}
