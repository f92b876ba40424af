package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent sseview configuration stored as config.toml
// in the .sseview/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Proxy       ProxyConfig       `toml:"proxy"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	Capture     CaptureConfig     `toml:"capture"`
	EventStream EventStreamConfig `toml:"eventstream"`
	Log         LogConfig         `toml:"log"`
}

// ProxyConfig holds capture proxy settings.
type ProxyConfig struct {
	Upstream       string `toml:"upstream,omitempty"`
	Listen         string `toml:"listen,omitempty"`
	DefaultContext string `toml:"default_context,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen     string `toml:"listen,omitempty"`
	DisableMCP bool   `toml:"disable_mcp,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to the running
// proxy and API servers (e.g. sseview watch, sseview tap).
// Values are full URLs (scheme + host + port).
type ClientConfig struct {
	ProxyTarget string `toml:"proxy_target,omitempty"`
	APITarget   string `toml:"api_target,omitempty"`
}

// CaptureConfig tunes the session registry and aggregator.
type CaptureConfig struct {
	DedupeWindowMS uint `toml:"dedupe_window_ms,omitempty"`
	ObserverBuffer uint `toml:"observer_buffer,omitempty"`
	MaxBodyBytes   uint `toml:"max_body_bytes,omitempty"`
}

// EventStreamConfig holds the capture event publisher settings.
type EventStreamConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
	ClientID string `toml:"client_id,omitempty"`
}

// BrokerList splits the comma separated broker list.
func (c EventStreamConfig) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// LogConfig holds logging settings.
type LogConfig struct {
	Format string `toml:"format,omitempty"`
	Debug  bool   `toml:"debug,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"proxy.upstream": {
		get: func(c *Config) string { return c.Proxy.Upstream },
		set: func(c *Config, v string) error { c.Proxy.Upstream = v; return nil },
	},
	"proxy.listen": {
		get: func(c *Config) string { return c.Proxy.Listen },
		set: func(c *Config, v string) error { c.Proxy.Listen = v; return nil },
	},
	"proxy.default_context": {
		get: func(c *Config) string { return c.Proxy.DefaultContext },
		set: func(c *Config, v string) error { c.Proxy.DefaultContext = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"api.disable_mcp": {
		get: func(c *Config) string { return strconv.FormatBool(c.API.DisableMCP) },
		set: func(c *Config, v string) error {
			return setBool(&c.API.DisableMCP, "api.disable_mcp", v)
		},
	},
	"client.proxy_target": {
		get: func(c *Config) string { return c.Client.ProxyTarget },
		set: func(c *Config, v string) error { c.Client.ProxyTarget = v; return nil },
	},
	"client.api_target": {
		get: func(c *Config) string { return c.Client.APITarget },
		set: func(c *Config, v string) error { c.Client.APITarget = v; return nil },
	},
	"capture.dedupe_window_ms": {
		get: func(c *Config) string { return formatUint(c.Capture.DedupeWindowMS) },
		set: func(c *Config, v string) error {
			return setUint(&c.Capture.DedupeWindowMS, "capture.dedupe_window_ms", v)
		},
	},
	"capture.observer_buffer": {
		get: func(c *Config) string { return formatUint(c.Capture.ObserverBuffer) },
		set: func(c *Config, v string) error {
			return setUint(&c.Capture.ObserverBuffer, "capture.observer_buffer", v)
		},
	},
	"capture.max_body_bytes": {
		get: func(c *Config) string { return formatUint(c.Capture.MaxBodyBytes) },
		set: func(c *Config, v string) error {
			return setUint(&c.Capture.MaxBodyBytes, "capture.max_body_bytes", v)
		},
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error { c.EventStream.Provider = v; return nil },
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return c.EventStream.Brokers },
		set: func(c *Config, v string) error { c.EventStream.Brokers = v; return nil },
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
	"eventstream.client_id": {
		get: func(c *Config) string { return c.EventStream.ClientID },
		set: func(c *Config, v string) error { c.EventStream.ClientID = v; return nil },
	},
	"log.format": {
		get: func(c *Config) string { return c.Log.Format },
		set: func(c *Config, v string) error {
			switch v {
			case "text", "json", "pretty":
				c.Log.Format = v
				return nil
			default:
				return fmt.Errorf("invalid value for log.format: %q (expected text, json or pretty)", v)
			}
		},
	},
	"log.debug": {
		get: func(c *Config) string { return strconv.FormatBool(c.Log.Debug) },
		set: func(c *Config, v string) error {
			return setBool(&c.Log.Debug, "log.debug", v)
		},
	},
}

func formatUint(n uint) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatUint(uint64(n), 10)
}

func setUint(target *uint, key, v string) error {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*target = uint(n)
	return nil
}

func setBool(target *bool, key, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*target = b
	return nil
}
