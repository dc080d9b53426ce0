package gateway

import (
	"github.com/smallbiznis/mordomozap/internal/gateway/uazapi"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(uazapi.New),
)
