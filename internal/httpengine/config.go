package httpengine

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tternquist/httpengine/internal/accesslog"
)

// Duration wraps time.Duration with a YAML unmarshaler accepting both
// duration strings ("90s") and bare integer seconds, the same convention
// the config package this is grounded on uses for every tunable duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind == 0 {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		return nil
	}
	if value.Tag == "!!int" {
		seconds, err := strconv.Atoi(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration integer %q: %w", value.Value, err)
		}
		d.Duration = time.Duration(seconds) * time.Second
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// PoolSize is the inclusive [Low, High] range the pool grows within.
type PoolSize struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// AccessLogConfig controls optional per-Send logging.
type AccessLogConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Format    string `yaml:"format"`     // "text" or "json"
	Directory string `yaml:"directory"`  // when set, logs rotate daily under this directory
	Prefix    string `yaml:"prefix"`
}

// Configuration holds every tunable of the pool/client pair. The zero
// value is not directly usable; call DefaultConfiguration or go through
// Load, both of which apply defaults for any unset field.
type Configuration struct {
	PoolSize PoolSize `yaml:"pool_size"`

	ParserBufferSize     int `yaml:"parser_buffer_size"`
	SerializerBufferSize int `yaml:"serializer_buffer_size"`

	AddressResolutionTimeout Duration `yaml:"address_resolution_timeout"`
	ConnectionTimeout        Duration `yaml:"connection_timeout"`
	BorrowTimeout            Duration `yaml:"borrow_timeout"`
	ParseTimeout             Duration `yaml:"parse_timeout"`
	SerializeTimeout         Duration `yaml:"serialize_timeout"`
	CloseConnectionTimeout   Duration `yaml:"close_connection_timeout"`

	// MaxRequestsPerSecond caps Send calls admitted per second via a token
	// bucket; 0 (default) means unlimited.
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second"`
	// RequestBurst is the token bucket burst size. 0 picks a size derived
	// from MaxRequestsPerSecond.
	RequestBurst int `yaml:"request_burst"`

	// DiagnosticsBufferSize bounds the recent-error ring buffer; 0 picks the
	// default of 64 and a negative value disables it.
	DiagnosticsBufferSize int `yaml:"diagnostics_buffer_size"`

	AccessLog AccessLogConfig `yaml:"access_log"`

	// TLSServerName overrides SNI; empty uses the origin host.
	TLSServerName string `yaml:"tls_server_name"`
	// TLSSkipVerify disables certificate verification. Testing only.
	TLSSkipVerify bool `yaml:"tls_skip_verify"`
}

// DefaultConfiguration returns a Configuration with every default value
// already applied.
func DefaultConfiguration() Configuration {
	cfg := Configuration{}
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Configuration) {
	if cfg.PoolSize.Low == 0 && cfg.PoolSize.High == 0 {
		cfg.PoolSize = PoolSize{Low: 5, High: 10}
	}
	if cfg.ParserBufferSize == 0 {
		cfg.ParserBufferSize = 4096
	}
	if cfg.SerializerBufferSize == 0 {
		cfg.SerializerBufferSize = 4096
	}
	if cfg.AddressResolutionTimeout.Duration == 0 {
		cfg.AddressResolutionTimeout.Duration = time.Minute
	}
	if cfg.ConnectionTimeout.Duration == 0 {
		cfg.ConnectionTimeout.Duration = time.Minute
	}
	if cfg.BorrowTimeout.Duration == 0 {
		cfg.BorrowTimeout.Duration = 5 * time.Minute
	}
	if cfg.ParseTimeout.Duration == 0 {
		cfg.ParseTimeout.Duration = 5 * time.Minute
	}
	if cfg.SerializeTimeout.Duration == 0 {
		cfg.SerializeTimeout.Duration = 5 * time.Minute
	}
	if cfg.CloseConnectionTimeout.Duration == 0 {
		cfg.CloseConnectionTimeout.Duration = time.Minute
	}
	if cfg.DiagnosticsBufferSize == 0 {
		cfg.DiagnosticsBufferSize = 64
	}
	if cfg.MaxRequestsPerSecond > 0 && cfg.RequestBurst <= 0 {
		burst := int(cfg.MaxRequestsPerSecond / 6)
		if burst < 1 {
			burst = 1
		}
		if burst > 20 {
			burst = 20
		}
		cfg.RequestBurst = burst
	}
	if cfg.AccessLog.Enabled && cfg.AccessLog.Format == "" {
		cfg.AccessLog.Format = "text"
	}
	if cfg.AccessLog.Enabled && cfg.AccessLog.Directory != "" && cfg.AccessLog.Prefix == "" {
		cfg.AccessLog.Prefix = "httpengine-access"
	}
}

func validate(cfg *Configuration) error {
	if cfg.PoolSize.Low < 0 || cfg.PoolSize.High < cfg.PoolSize.Low {
		return fmt.Errorf("pool_size: need 0 <= low <= high, got low=%d high=%d", cfg.PoolSize.Low, cfg.PoolSize.High)
	}
	if cfg.ParserBufferSize <= 0 || cfg.SerializerBufferSize <= 0 {
		return fmt.Errorf("parser_buffer_size and serializer_buffer_size must be positive")
	}
	for name, d := range map[string]time.Duration{
		"address_resolution_timeout": cfg.AddressResolutionTimeout.Duration,
		"connection_timeout":         cfg.ConnectionTimeout.Duration,
		"borrow_timeout":             cfg.BorrowTimeout.Duration,
		"parse_timeout":              cfg.ParseTimeout.Duration,
		"serialize_timeout":          cfg.SerializeTimeout.Duration,
		"close_connection_timeout":   cfg.CloseConnectionTimeout.Duration,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if cfg.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("max_requests_per_second must not be negative")
	}
	return nil
}

// Load reads a Configuration from a YAML file at path, applies defaults
// for any unset field, and validates the result.
func Load(path string) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}
	var cfg Configuration
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// accessLogWriter builds the configured accesslog.Writer, or nil when
// access logging is disabled. Exposed at the bottom of this file since it
// is config-shaped plumbing rather than part of the YAML schema.
func (cfg Configuration) accessLogWriter() (accesslog.Writer, func() error, error) {
	if !cfg.AccessLog.Enabled {
		return nil, nil, nil
	}
	if cfg.AccessLog.Directory == "" {
		return accesslog.NewWriter(os.Stdout, cfg.AccessLog.Format), func() error { return nil }, nil
	}
	dw, err := accesslog.NewDailyWriter(cfg.AccessLog.Directory, cfg.AccessLog.Prefix)
	if err != nil {
		return nil, nil, err
	}
	return accesslog.NewWriter(dw, cfg.AccessLog.Format), dw.Close, nil
}
