package scenario

import (
	"github.com/croessner/stackload/client/engine"
	"go.uber.org/fx"
)

// Module provides the scenario as the engine.Scenario of the run. The
// *Config is supplied by the caller.
var Module = fx.Module("scenario",
	fx.Provide(
		NewScenario,
		asEngineScenario,
	),
)

func asEngineScenario(s *Scenario) engine.Scenario {
	return s
}
