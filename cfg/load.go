package cfg

import (
	"encoding/json"
	"os"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the prefix every HOLYRIGD_* environment override uses,
// e.g. HOLYRIGD_LISTEN, HOLYRIGD_LOG_LEVEL.
const envPrefix = "HOLYRIGD"

// Load reads path as a Config, falling back to (and writing out)
// fallback if path doesn't exist yet, then overlays any HOLYRIGD_*
// environment variables declared via the envconfig tag, the same
// two-step JSON-then-env layering a LoadConfig/ReadConfig
// pair performs (minus env overlay, which a plain config.go never
// actually exercises despite depending on the library).
func Load(path string, fallback Config) (Config, error) {
	config, err := Read(path)
	if os.IsNotExist(err) {
		config = fallback
		if err := Write(config, path); err != nil {
			return config, err
		}
	} else if err != nil {
		return config, err
	}

	if config.Rigs == nil {
		config.Rigs = map[string]RigConfig{}
	}
	if config.SubscriptionQueueDepth == 0 {
		config.SubscriptionQueueDepth = DefaultConfig.SubscriptionQueueDepth
	}

	if err := envconfig.Process(envPrefix, &config); err != nil {
		return config, err
	}
	return config, nil
}

// Read parses path as a JSON Config, with no default-filling or env
// overlay.
func Read(path string) (Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return config, err
	}
	return config, nil
}

// Write serializes config as indented JSON to path.
func Write(config Config, path string) error {
	data, err := json.MarshalIndent(config, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
