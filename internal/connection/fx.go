package connection

import (
	"github.com/smallbiznis/mordomozap/internal/connection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("connection.service",
	fx.Provide(service.New),
)
