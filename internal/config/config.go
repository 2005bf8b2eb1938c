// Package config provides the configuration schema and loader for the
// CuePilot teleprompter server.
package config

import "time"

// LogLevel controls log verbosity for the CuePilot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for CuePilot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Alignment  AlignmentConfig  `yaml:"alignment"`
	Similarity SimilarityConfig `yaml:"similarity"`
}

// ServerConfig holds network and logging settings for the CuePilot server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AlignmentConfig holds the default settings new sessions start with. Each
// session can still be reconfigured at runtime through the settings endpoint.
type AlignmentConfig struct {
	// MatchThreshold gates fuzzy-match acceptance, in [0, 1]. Zero means
	// the built-in default of 0.7.
	MatchThreshold float64 `yaml:"match_threshold"`

	// SearchWindowOverride, when > 0, replaces the computed search window
	// half-width for every session.
	SearchWindowOverride int `yaml:"search_window_override"`

	// AutoScroll gates scroll events on accepted matches. Nil means the
	// built-in default of true.
	AutoScroll *bool `yaml:"auto_scroll"`

	// HighlightDurationMS is how long a matched word stays highlighted
	// before the session clears it, in milliseconds. Zero means the
	// built-in default of 1500.
	HighlightDurationMS int `yaml:"highlight_duration_ms"`
}

// HighlightDuration returns the configured highlight fade delay.
func (a AlignmentConfig) HighlightDuration() time.Duration {
	if a.HighlightDurationMS == 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(a.HighlightDurationMS) * time.Millisecond
}

// SimilarityConfig tunes the shared word-similarity engine.
type SimilarityConfig struct {
	// CacheSize bounds the memoization cache entry count. Zero means the
	// built-in default of 1000.
	CacheSize int `yaml:"cache_size"`
}
