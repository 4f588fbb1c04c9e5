package resources

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DevProfile is an optional local-development override layered under
// the JSON config: which configured rigs are actually enabled, and a
// log-verbosity override. It exists to let a developer iterate on one
// rig's model file without commenting out the rest of a shared config,
// the same narrow-scope use the production modbus-replicator config
// serves for its own YAML-configured register list. Not a second
// schema/model source format: spec.md's DSL and the model file's
// TOML-like form remain the only way to describe a rig's command set.
type DevProfile struct {
	EnabledRigs []string `yaml:"enabled_rigs"`
	Verbose     bool     `yaml:"verbose"`
}

// LoadDevProfile reads path as a DevProfile. A missing file is not an
// error; it reports a zero-value DevProfile and ok=false so the caller
// falls back to running every configured rig.
func LoadDevProfile(path string) (profile DevProfile, ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DevProfile{}, false, nil
	}
	if err != nil {
		return DevProfile{}, false, err
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return DevProfile{}, false, err
	}
	return profile, true, nil
}

// Enabled reports whether rigID should run under this profile. An empty
// EnabledRigs list means "every configured rig."
func (p DevProfile) Enabled(rigID string) bool {
	if len(p.EnabledRigs) == 0 {
		return true
	}
	for _, id := range p.EnabledRigs {
		if id == rigID {
			return true
		}
	}
	return false
}
