package mode

import "go.uber.org/fx"

var Module = fx.Module("mode",
	fx.Provide(NewHolder),
)
