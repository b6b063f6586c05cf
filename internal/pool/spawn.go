package pool

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sadewadee/saori/internal/config"
	"github.com/sadewadee/saori/internal/module"
)

// Environment passed to process workers so `saori worker` can rebuild the
// same module as the host.
const (
	EnvModuleName = "SAORI_MODULE"
	EnvFunctions  = "SAORI_FUNCTIONS"
	EnvMaxJobs    = "SAORI_MAX_JOBS"
)

// NewSpawner returns the SpawnFunc for mod.Mode. m is only used in
// embedded mode.
func NewSpawner(mod config.ModuleConfig, poolCfg config.PoolConfig, m *module.Module) (SpawnFunc, error) {
	switch mod.Mode {
	case config.ModeEmbedded:
		if m == nil {
			return nil, fmt.Errorf("embedded mode needs a module")
		}
		return func(id int) (*Worker, error) {
			return StartEmbedded(id, m)
		}, nil
	case config.ModeProcess:
		env := buildEnv(mod, poolCfg)
		command := slices.Clone(mod.Command)
		return func(id int) (*Worker, error) {
			return StartProcess(id, command, env)
		}, nil
	}
	return nil, fmt.Errorf("unknown module mode %q", mod.Mode)
}

func buildEnv(mod config.ModuleConfig, poolCfg config.PoolConfig) []string {
	env := []string{EnvModuleName + "=" + mod.Name}
	if len(mod.Functions) > 0 {
		env = append(env, EnvFunctions+"="+strings.Join(mod.Functions, ","))
	}
	if poolCfg.MaxJobs > 0 {
		env = append(env, EnvMaxJobs+"="+strconv.Itoa(poolCfg.MaxJobs))
	}

	keys := make([]string, 0, len(mod.Env))
	for k := range mod.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+mod.Env[k])
	}
	return env
}
