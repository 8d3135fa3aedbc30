package directory

import (
	"github.com/smallbiznis/iuran/internal/directory/repository"
	"github.com/smallbiznis/iuran/internal/directory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("directory.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
