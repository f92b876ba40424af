package config

const (
	defaultUpstream       = "http://localhost:3000"
	defaultProxyListen    = ":8080"
	defaultAPIListen      = ":8081"
	defaultContextID      = "default"
	defaultDedupeWindowMS = 1000
	defaultObserverBuffer = 256
	defaultMaxBodyBytes   = 1 << 20

	defaultClientProxyTarget = "http://localhost:8080"
	defaultClientAPITarget   = "http://localhost:8081"

	defaultEventStreamProvider = "none"
	defaultEventStreamBrokers  = "localhost:9092"
	defaultEventStreamTopic    = "sseview.capture"
	defaultEventStreamClientID = "sseview"

	defaultLogFormat = "text"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Proxy: ProxyConfig{
			Upstream:       defaultUpstream,
			Listen:         defaultProxyListen,
			DefaultContext: defaultContextID,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			ProxyTarget: defaultClientProxyTarget,
			APITarget:   defaultClientAPITarget,
		},
		Capture: CaptureConfig{
			DedupeWindowMS: defaultDedupeWindowMS,
			ObserverBuffer: defaultObserverBuffer,
			MaxBodyBytes:   defaultMaxBodyBytes,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Brokers:  defaultEventStreamBrokers,
			Topic:    defaultEventStreamTopic,
			ClientID: defaultEventStreamClientID,
		},
		Log: LogConfig{
			Format: defaultLogFormat,
		},
	}
}
