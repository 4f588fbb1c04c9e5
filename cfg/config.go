// Package cfg defines holyrigd's configuration shape: a single
// json-tagged Config struct with a DefaultConfig package value, nested
// per-concern sub-structs, exactly the way a cfg.Config/
// cfg.DefaultConfig pair works.
package cfg

import "time"

// RigConfig configures one named rig instance: where its serial port
// is, which schema/model files describe its command set, and the rig
// runtime's retry/timing knobs for that instance.
type RigConfig struct {
	// Device is the serial port path (e.g. /dev/ttyUSB0 or COM3). Leave
	// empty when RigctldAddr is set instead.
	Device string `json:"device"`

	// Baud is the serial port's baud rate.
	Baud int `json:"baud"`

	// RigctldAddr, if set, opens this rig through a running rigctld's
	// raw command passthrough (see rigcontrol/hamlib) instead of a
	// local serial port. host:port, e.g. "localhost:4532".
	RigctldAddr string `json:"rigctld_addr"`

	// Schema names the loaded Schema this rig's model targets, by its
	// declared kind (see internal/resources.Store.Schema).
	Schema string `json:"schema"`

	// Model is the rig id to load a compiled Model for (the .rig file's
	// stem under the resource directory's rigs/ subdirectory).
	Model string `json:"model"`

	// PollInterval governs how often the rig runtime cycles through its
	// round-robin status poll. Zero means use internal/rig's default.
	PollInterval Duration `json:"poll_interval"`

	// InitRetries is how many attempts each init frame gets before the
	// rig gives up and enters NotResponding. Zero means use internal/rig's
	// default.
	InitRetries int `json:"init_retries"`

	// ExchangeTimeout bounds how long the rig runtime waits for a reply
	// to any single write. Zero means use internal/rig's default.
	ExchangeTimeout Duration `json:"exchange_timeout"`

	// MaxConsecutiveFailures is how many consecutive exchange failures
	// while Online trigger a transition to NotResponding. Zero means use
	// internal/rig's default.
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`

	// ReconnectInterval governs how long NotResponding waits before
	// retrying the connection. Zero means use internal/rig's default.
	ReconnectInterval Duration `json:"reconnect_interval"`
}

// WebUIConfig configures the optional local status-dashboard transport.
type WebUIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Config is holyrigd's complete runtime configuration.
type Config struct {
	// ResourceDir overrides the default schema/model directory
	// (internal/resources.ConfigDir(), normally
	// $XDG_CONFIG_HOME/holyrig). Empty means use the default.
	ResourceDir string `json:"resource_dir" envconfig:"RESOURCE_DIR"`

	// Listen is the UDP bind address for the JSON-RPC transport
	// (internal/jsonrpc.Server), e.g. "127.0.0.1:7700".
	Listen string `json:"listen" envconfig:"LISTEN"`

	// DebugListen is the UDP bind address for the plaintext debug
	// interface (internal/jsonrpc.DebugServer). Empty disables it.
	DebugListen string `json:"debug_listen" envconfig:"DEBUG_LISTEN"`

	// LogLevel selects verbose logging when set to "debug".
	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`

	// SubscriptionQueueDepth bounds each subscriber's pending
	// notification queue (internal/subscription.Manager).
	SubscriptionQueueDepth int `json:"subscription_queue_depth"`

	WebUI WebUIConfig `json:"web_ui"`

	// Rigs maps a rig id (as used in every JSON-RPC rig_id parameter) to
	// its serial/schema/model/timing configuration.
	Rigs map[string]RigConfig `json:"rigs"`
}

// Duration is a time.Duration that marshals to/from its Go string
// syntax ("500ms", "2s") in JSON, instead of an opaque integer
// nanosecond count.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(p []byte) error {
	s := string(p)
	s = s[1 : len(s)-1] // strip the surrounding quotes
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig is the configuration installed for a fresh install,
// mirroring a DefaultConfig package value.
var DefaultConfig = Config{
	Listen:                 "127.0.0.1:7700",
	LogLevel:               "info",
	SubscriptionQueueDepth: 32,
	WebUI: WebUIConfig{
		Enabled: false,
		Addr:    "localhost:7780",
	},
	Rigs: map[string]RigConfig{},
}
