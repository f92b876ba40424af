package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --upstream
// on both "sseview serve" and "sseview serve proxy").
type Flag struct {
	// Name is the long flag name (e.g. "upstream").
	Name string

	// Shorthand is the one-letter short flag (e.g. "u"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "proxy.upstream").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagProxyListen    = "proxy-listen"
	FlagAPIListen      = "api-listen"
	FlagUpstream       = "upstream"
	FlagDefaultContext = "default-context"
	FlagDisableMCP     = "disable-mcp"
	FlagAPITarget      = "api-target"
	FlagProxyTarget    = "proxy-target"
	FlagDedupeWindow   = "dedupe-window-ms"
	FlagObserverBuffer = "observer-buffer"
	FlagMaxBodyBytes   = "max-body-bytes"
	FlagStreamProvider = "eventstream-provider"
	FlagStreamBrokers  = "eventstream-brokers"
	FlagStreamTopic    = "eventstream-topic"
	FlagLogFormat      = "log-format"

	// Standalone subcommand variants use "listen" as the flag name
	// but bind to different viper keys depending on the service.
	FlagProxyListenStandalone = "proxy-listen-standalone"
	FlagAPIListenStandalone   = "api-listen-standalone"
)

// Flags is the registry shared by every sseview command.
var Flags = FlagSet{
	FlagProxyListen: {
		Name:        "proxy-listen",
		Shorthand:   "p",
		ViperKey:    "proxy.listen",
		Description: "Address for the capture proxy to listen on",
	},
	FlagAPIListen: {
		Name:        "api-listen",
		Shorthand:   "a",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	FlagProxyListenStandalone: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "proxy.listen",
		Description: "Address for the capture proxy to listen on",
	},
	FlagAPIListenStandalone: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	FlagUpstream: {
		Name:        "upstream",
		Shorthand:   "u",
		ViperKey:    "proxy.upstream",
		Description: "Upstream origin whose responses are captured",
	},
	FlagDefaultContext: {
		Name:        "default-context",
		ViperKey:    "proxy.default_context",
		Description: "Browsing context for requests without a context header",
	},
	FlagDisableMCP: {
		Name:        "disable-mcp",
		ViperKey:    "api.disable_mcp",
		Description: "Do not mount the MCP endpoint on the API server",
	},
	FlagAPITarget: {
		Name:        "api-target",
		ViperKey:    "client.api_target",
		Description: "URL of the running sseview API server",
	},
	FlagProxyTarget: {
		Name:        "proxy-target",
		ViperKey:    "client.proxy_target",
		Description: "URL of the running sseview capture proxy",
	},
	FlagDedupeWindow: {
		Name:        "dedupe-window-ms",
		ViperKey:    "capture.dedupe_window_ms",
		Description: "Window in milliseconds within which identical events are dropped",
	},
	FlagObserverBuffer: {
		Name:        "observer-buffer",
		ViperKey:    "capture.observer_buffer",
		Description: "Notifications buffered per observer before they are dropped",
	},
	FlagMaxBodyBytes: {
		Name:        "max-body-bytes",
		ViperKey:    "capture.max_body_bytes",
		Description: "Largest request body parsed into session params",
	},
	FlagStreamProvider: {
		Name:        "eventstream-provider",
		ViperKey:    "eventstream.provider",
		Description: "Capture event publisher (none, kafka)",
	},
	FlagStreamBrokers: {
		Name:        "eventstream-brokers",
		ViperKey:    "eventstream.brokers",
		Description: "Comma separated Kafka broker addresses",
	},
	FlagStreamTopic: {
		Name:        "eventstream-topic",
		ViperKey:    "eventstream.topic",
		Description: "Kafka topic capture events are published to",
	},
	FlagLogFormat: {
		Name:        "log-format",
		ViperKey:    "log.format",
		Description: "Log output format (text, json, pretty)",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}

// defaultBool returns the default bool value for a viper key from NewDefaultConfig.
func defaultBool(viperKey string) bool {
	v := viper.New()
	setViperDefaults(v)
	return v.GetBool(viperKey)
}

// Resolve builds the precedence chain for cmd (flag > env > config file >
// default) from its --config-dir flag and the given registry keys, and
// returns the resulting Config.
func Resolve(cmd *cobra.Command, registryKeys ...string) (*Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := InitViper(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	BindRegisteredFlags(v, cmd, Flags, registryKeys)
	return FromViper(v), nil
}
