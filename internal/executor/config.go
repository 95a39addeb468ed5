package executor

import "github.com/R3E-Network/testorch/internal/domain/catalog"

// effectiveConfigEnvVar is the environment variable carrying the
// JSON-serialized effective configuration to the driver subprocess.
const effectiveConfigEnvVar = "TESTORCH_CONFIG"

// effectiveConfig computes the strict left-to-right merge that produces a
// test's configuration for one environment: {envCode} is overlaid, in
// order, by the test's shared constants, its per-environment constants, its
// shared overrides, its per-environment overrides, and finally the run's
// own overrides. Each layer replaces keys wholesale; there is no deep merge.
func effectiveConfig(env string, def catalog.TestDefinition, runOverrides map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"envCode": env}
	applyLayer(out, def.Constants.Shared)
	applyLayer(out, def.Constants.Environments[env])
	if def.Overrides != nil {
		applyLayer(out, def.Overrides.Shared)
		applyLayer(out, def.Overrides.Environments[env])
	}
	applyLayer(out, runOverrides)
	return out
}

func applyLayer(dst map[string]interface{}, layer map[string]interface{}) {
	for k, v := range layer {
		dst[k] = v
	}
}
