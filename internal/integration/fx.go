package integration

import (
	"github.com/smallbiznis/mordomozap/internal/integration/repository"
	"github.com/smallbiznis/mordomozap/internal/integration/sealer"
	"go.uber.org/fx"
)

var Module = fx.Module("integration.repository",
	fx.Provide(repository.Provide),
	fx.Provide(sealer.New),
)
