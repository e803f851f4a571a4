package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/cariot/api/gateway"
	"github.com/kilianp07/cariot/infra/broker"
	"github.com/kilianp07/cariot/infra/cache"
	"github.com/kilianp07/cariot/infra/history"
	"github.com/kilianp07/cariot/infra/journal"
	"github.com/kilianp07/cariot/infra/mqtt"
	"github.com/kilianp07/cariot/simulator"
)

type Config struct {
	MQTT      mqtt.Config      `json:"mqtt"`
	HTTP      HTTPConfig       `json:"http"`
	WebSocket gateway.Config   `json:"websocket"`
	Emission  EmissionConfig   `json:"emission"`
	Logging   LoggingConfig    `json:"logging"`
	Metrics   MetricsConfig    `json:"metrics"`
	History   history.Config   `json:"history"`
	Cache     cache.Config     `json:"cache"`
	Journal   journal.Config   `json:"journal"`
	Broker    broker.Config    `json:"broker"`
	Simulator simulator.Config `json:"simulator"`
}

// Load reads a YAML or JSON file, applies K_ environment overrides
// (K_MQTT__BROKER sets mqtt.broker), then defaults and validation.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.HTTP.SetDefaults()
	c.WebSocket.SetDefaults()
	c.Emission.SetDefaults()
	c.Logging.SetDefaults()
	c.Broker.SetDefaults()
	c.Simulator.SetDefaults()
	if c.MQTT.LocationTopic != "" && c.Simulator.LocationTopic == simulator.DefaultLocationTopic {
		c.Simulator.LocationTopic = c.MQTT.LocationTopic
	}
}

// Validate checks every section and prefixes errors with the section name.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"mqtt", c.MQTT.Validate},
		{"http", c.HTTP.Validate},
		{"emission", c.Emission.Validate},
		{"logging", c.Logging.Validate},
		{"history", c.History.Validate},
		{"cache", c.Cache.Validate},
		{"journal", c.Journal.Validate},
		{"simulator", c.Simulator.Validate},
	}
	for _, chk := range checks {
		err := chk.fn()
		if err == nil {
			continue
		}
		if strings.HasPrefix(err.Error(), chk.name+":") {
			return err
		}
		return fmt.Errorf("%s: %w", chk.name, err)
	}
	return nil
}
