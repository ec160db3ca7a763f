package config

// SDKConfig holds the settings shared with embedders of the sdk/authflow builder.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url" env:"PROXY_URL"`

	// RequestLog enables debug logging of every backend request line.
	RequestLog bool `yaml:"request-log" json:"request-log" env:"REQUEST_LOG"`
}
