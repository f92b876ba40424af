package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/sseview/pkg/dotdir"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "SSEVIEW"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the SSEVIEW_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (SSEVIEW_PROXY_LISTEN, SSEVIEW_API_LISTEN, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Proxy
	v.SetDefault("proxy.upstream", d.Proxy.Upstream)
	v.SetDefault("proxy.listen", d.Proxy.Listen)
	v.SetDefault("proxy.default_context", d.Proxy.DefaultContext)

	// API
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.disable_mcp", d.API.DisableMCP)

	// Client
	v.SetDefault("client.proxy_target", d.Client.ProxyTarget)
	v.SetDefault("client.api_target", d.Client.APITarget)

	// Capture
	v.SetDefault("capture.dedupe_window_ms", d.Capture.DedupeWindowMS)
	v.SetDefault("capture.observer_buffer", d.Capture.ObserverBuffer)
	v.SetDefault("capture.max_body_bytes", d.Capture.MaxBodyBytes)

	// Event stream
	v.SetDefault("eventstream.provider", d.EventStream.Provider)
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
	v.SetDefault("eventstream.client_id", d.EventStream.ClientID)

	// Log
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.debug", d.Log.Debug)
}

// FromViper builds a Config from the resolved viper state so flags and
// environment overrides are reflected.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Proxy: ProxyConfig{
			Upstream:       v.GetString("proxy.upstream"),
			Listen:         v.GetString("proxy.listen"),
			DefaultContext: v.GetString("proxy.default_context"),
		},
		API: APIConfig{
			Listen:     v.GetString("api.listen"),
			DisableMCP: v.GetBool("api.disable_mcp"),
		},
		Client: ClientConfig{
			ProxyTarget: v.GetString("client.proxy_target"),
			APITarget:   v.GetString("client.api_target"),
		},
		Capture: CaptureConfig{
			DedupeWindowMS: v.GetUint("capture.dedupe_window_ms"),
			ObserverBuffer: v.GetUint("capture.observer_buffer"),
			MaxBodyBytes:   v.GetUint("capture.max_body_bytes"),
		},
		EventStream: EventStreamConfig{
			Provider: v.GetString("eventstream.provider"),
			Brokers:  v.GetString("eventstream.brokers"),
			Topic:    v.GetString("eventstream.topic"),
			ClientID: v.GetString("eventstream.client_id"),
		},
		Log: LogConfig{
			Format: v.GetString("log.format"),
			Debug:  v.GetBool("log.debug"),
		},
	}
}
