package dues

import (
	"github.com/smallbiznis/iuran/internal/dues/repository"
	"github.com/smallbiznis/iuran/internal/dues/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dues.service",
	fx.Provide(repository.ProvideCollection),
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
