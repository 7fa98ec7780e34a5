// Package config loads the host application's YAML configuration,
// following the same env-var-path + post-unmarshal-defaults idiom the
// teacher backend uses for its own simulator config.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the single typed configuration record for the host core,
// covering every tunable the host core exposes plus the
// connection details needed to actually dial a broker.
type Config struct {
	Host struct {
		ApplicationID string `yaml:"application_id"`
		Version       string `yaml:"version"`
	} `yaml:"host"`
	MQTT struct {
		Broker        string `yaml:"broker"`
		ClientID      string `yaml:"client_id"`
		KeepAliveSecs int    `yaml:"keepalive_secs"`
	} `yaml:"mqtt"`
	Subscriptions []string `yaml:"subscriptions"`
	Ordering      struct {
		Enabled                   bool `yaml:"enabled"`
		SeqCacheExpirationMinutes int  `yaml:"seq_cache_expiration_minutes"`
		SeqReorderTimeoutMs       int  `yaml:"seq_reorder_timeout_ms"`
		SendRebirthOnTimeout      *bool `yaml:"send_rebirth_on_timeout"`
	} `yaml:"ordering"`
}

// Load reads HOSTCORE_CONFIG (falling back to configs/hostapp.yaml),
// unmarshals it and fills in defaults for anything left unset.
func Load() (Config, error) {
	path := os.Getenv("HOSTCORE_CONFIG")
	if path == "" {
		path = "configs/hostapp.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	applyDefaults(&c)
	return c, nil
}

func applyDefaults(c *Config) {
	if c.Host.Version == "" {
		c.Host.Version = "v3.0.0"
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.KeepAliveSecs == 0 {
		c.MQTT.KeepAliveSecs = 15
	}
	if c.Ordering.SeqCacheExpirationMinutes == 0 {
		c.Ordering.SeqCacheExpirationMinutes = 120
	}
	if c.Ordering.SeqReorderTimeoutMs == 0 {
		c.Ordering.SeqReorderTimeoutMs = 10000
	}
	if c.Ordering.SendRebirthOnTimeout == nil {
		v := true
		c.Ordering.SendRebirthOnTimeout = &v
	}
}
