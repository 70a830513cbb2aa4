package broker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the four endpoint addresses the broker binds, per spec
// §6. Addresses are transport-specific URIs (e.g. "tcp://127.0.0.1:6665"
// for the zmq transport, or an arbitrary label for transport/inproc).
type Config struct {
	RequestAddress      string `yaml:"request_address"`
	ServiceAddress      string `yaml:"service_address"`
	SubmitValuesAddress string `yaml:"submit_values_address"`
	NewValuesAddress    string `yaml:"new_values_address"`

	// PollIntervalMS bounds how long each plane's poll blocks between
	// termination-flag checks (spec §5: "typically 200-2000ms").
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// LoadConfig reads a YAML configuration file, the Go-native replacement
// for the original Python broker's configparser-based INI file
// (message_broker.py:get_config).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("broker: read config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("broker: parse config %q: %w", path, err)
	}

	if cfg.PollIntervalMS == 0 {
		cfg.PollIntervalMS = 1000
	}

	if cfg.RequestAddress == "" || cfg.ServiceAddress == "" ||
		cfg.SubmitValuesAddress == "" || cfg.NewValuesAddress == "" {
		return Config{}, fmt.Errorf("broker: config %q is missing one of the four required addresses", path)
	}

	return cfg, nil
}
