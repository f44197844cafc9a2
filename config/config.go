// Package config loads the YAML configuration shared by the sealed-rpc executables.
//
// A Config is validated once at load time and treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sealed-rpc/codec"
	"sealed-rpc/loadbalance"
	"sealed-rpc/middleware"
	"sealed-rpc/seal"
	"sealed-rpc/system"
)

const (
	KeyModeSession = "session"
	KeyModeShared  = "shared"
)

type Config struct {
	// Production hides internal error details from callers.
	Production bool `yaml:"production"`
	// Debug keeps the requested payload format on in-process calls.
	Debug     bool            `yaml:"debug"`
	Codec     CodecConfig     `yaml:"codec"`
	Keys      KeysConfig      `yaml:"keys"`
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

type CodecConfig struct {
	Serializer          string   `yaml:"serializer"` // json | msgpack
	Compressor          string   `yaml:"compressor"` // none | gzip | zstd
	Encryptor           string   `yaml:"encryptor"`  // seal algorithm name
	AllowedTypePrefixes []string `yaml:"allowedTypePrefixes"`
}

type KeysConfig struct {
	Mode       string        `yaml:"mode"`      // session | shared
	SharedKey  string        `yaml:"sharedKey"` // hex, 64 bytes; shared mode only
	SessionTTL time.Duration `yaml:"sessionTTL"`
}

type ServerConfig struct {
	Listen     string          `yaml:"listen"`
	HTTPListen string          `yaml:"httpListen"`
	Advertise  string          `yaml:"advertise"`
	APIKeys    []string        `yaml:"apiKeys"`
	RateLimit  RateLimitConfig `yaml:"rateLimit"`
	// Timeout bounds each handler when positive. Zero leaves calls unbounded.
	Timeout time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type DiscoveryConfig struct {
	EtcdEndpoints []string `yaml:"etcdEndpoints"`
	Service       string   `yaml:"service"`
	TTLSeconds    int64    `yaml:"ttlSeconds"`
	Balancer      string   `yaml:"balancer"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	return &Config{
		Codec: CodecConfig{
			Serializer: codec.SerializerJSON,
			Compressor: codec.CompressorNone,
			Encryptor:  seal.AlgCBCHMAC,
		},
		Keys: KeysConfig{Mode: KeyModeSession, SessionTTL: 12 * time.Hour},
		Server: ServerConfig{
			Listen: ":9000",
		},
		Discovery: DiscoveryConfig{
			Service:    "sealed-rpc",
			TTLSeconds: 10,
			Balancer:   loadbalance.StrategyConsistentHash,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Parse reads YAML on top of Default and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs error
	if _, err := codec.SerializerByName(c.Codec.Serializer); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := codec.CompressorByName(c.Codec.Compressor); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := seal.ForAlgorithm(c.Codec.Encryptor); err != nil {
		errs = multierr.Append(errs, err)
	}
	switch c.Keys.Mode {
	case KeyModeSession:
		if c.Keys.SharedKey != "" {
			errs = multierr.Append(errs, errors.New("config: keys.sharedKey is only used in shared mode"))
		}
	case KeyModeShared:
		if _, err := c.SharedKey(); err != nil {
			errs = multierr.Append(errs, err)
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("config: unknown keys.mode %q", c.Keys.Mode))
	}
	if c.Keys.SessionTTL < 0 {
		errs = multierr.Append(errs, errors.New("config: keys.sessionTTL must not be negative"))
	}
	if c.Server.Listen == "" && c.Server.HTTPListen == "" {
		errs = multierr.Append(errs, errors.New("config: server.listen or server.httpListen is required"))
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		errs = multierr.Append(errs, errors.New("config: server.rateLimit must not be negative"))
	}
	if len(c.Discovery.EtcdEndpoints) > 0 && c.Discovery.Service == "" {
		errs = multierr.Append(errs, errors.New("config: discovery.service is required with etcdEndpoints"))
	}
	if _, err := loadbalance.ByName(c.Discovery.Balancer); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("config: log.level: %w", err))
	}
	return errs
}

// Types returns a registry admitting the configured prefixes and the System types.
func (c *Config) Types() *codec.TypeRegistry {
	prefixes := append([]string{system.TypePrefix}, c.Codec.AllowedTypePrefixes...)
	return codec.NewTypeRegistry(prefixes...)
}

// Pipeline builds the codec pipeline. A nil types uses Types().
func (c *Config) Pipeline(types *codec.TypeRegistry) (*codec.Pipeline, error) {
	if types == nil {
		types = c.Types()
	}
	s, err := codec.SerializerByName(c.Codec.Serializer)
	if err != nil {
		return nil, err
	}
	comp, err := codec.CompressorByName(c.Codec.Compressor)
	if err != nil {
		return nil, err
	}
	aead, err := seal.ForAlgorithm(c.Codec.Encryptor)
	if err != nil {
		return nil, err
	}
	return codec.NewPipeline(codec.Options{Serializer: s, Compressor: comp, AEAD: aead, Types: types}), nil
}

// SharedKey parses keys.sharedKey for the configured encryptor.
func (c *Config) SharedKey() (*seal.KeySet, error) {
	if c.Keys.SharedKey == "" {
		return nil, errors.New("config: keys.sharedKey is required in shared mode")
	}
	k, err := seal.KeySetFromHex(c.Codec.Encryptor, c.Keys.SharedKey)
	if err != nil {
		return nil, fmt.Errorf("config: keys.sharedKey: %w", err)
	}
	return k, nil
}

// Middlewares returns the dispatcher chain: logging, then rate limiting and the handler
// timeout when configured.
func (c *Config) Middlewares(logger *zap.Logger) []middleware.Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	mws := []middleware.Middleware{middleware.Logging(logger)}
	if rl := c.Server.RateLimit; rl.RPS > 0 {
		burst := rl.Burst
		if burst == 0 {
			burst = int(rl.RPS) + 1
		}
		mws = append(mws, middleware.RateLimit(rl.RPS, burst))
	}
	if c.Server.Timeout > 0 {
		mws = append(mws, middleware.Timeout(c.Server.Timeout))
	}
	return mws
}

// Build creates the process logger.
func (l LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
