// Package config loads the settings of the apicache binaries
// from a YAML file and APICACHE_* environment variables.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/always-cache/apicache/cache"
	cachepolicy "github.com/always-cache/apicache/pkg/cache-policy"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type Config struct {
	API    API    `yaml:"api"`
	Cache  Cache  `yaml:"cache"`
	Server Server `yaml:"server"`
	Log    Log    `yaml:"log"`
}

type API struct {
	BaseURL string   `yaml:"baseURL" env:"APICACHE_API_BASE_URL" env-default:"http://localhost:8003/admin" env-description:"Base URL of the API"`
	Timeout Duration `yaml:"timeout" env:"APICACHE_API_TIMEOUT" env-default:"60s" env-description:"Deadline for each API request"`
	// Session cookies are sent unless this is set.
	OmitCredentials bool `yaml:"omitCredentials" env:"APICACHE_API_OMIT_CREDENTIALS" env-description:"Do not send session cookies"`
}

type Cache struct {
	Store           string   `yaml:"store" env:"APICACHE_CACHE_STORE" env-default:"memory" env-description:"Entry store: memory or sqlite"`
	ShortTTL        Duration `yaml:"shortTTL" env:"APICACHE_CACHE_SHORT_TTL" env-default:"5s" env-description:"TTL of fast-changing endpoints"`
	DefaultTTL      Duration `yaml:"defaultTTL" env:"APICACHE_CACHE_DEFAULT_TTL" env-default:"30s" env-description:"TTL of every other endpoint"`
	Bypass          []string `yaml:"bypass" env:"APICACHE_CACHE_BYPASS" env-default:"/stream,/live,/events/" env-description:"URL substrings that are never cached"`
	Short           []string `yaml:"short" env:"APICACHE_CACHE_SHORT" env-default:"/stats,/tiempo-real,/logs,/alertas/api,/system-health" env-description:"URL substrings that get the short TTL"`
	Warm            []string `yaml:"warm" env:"APICACHE_CACHE_WARM" env-description:"URLs to prefetch and keep refreshed"`
	RefreshInterval Duration `yaml:"refreshInterval" env:"APICACHE_CACHE_REFRESH_INTERVAL" env-description:"Refresh interval of the warm URLs, 0 to disable"`
}

type Server struct {
	Port int `yaml:"port" env:"APICACHE_SERVER_PORT" env-default:"8080" env-description:"Port the gateway listens on"`
}

type Log struct {
	Level string `yaml:"level" env:"APICACHE_LOG_LEVEL" env-default:"debug" env-description:"Log level"`
	File  string `yaml:"file" env:"APICACHE_LOG_FILE" env-description:"Log file, in addition to stdout"`
}

// Load reads the config from the YAML file at path, if given, and the environment.
// Environment variables win over the file; defaults fill whatever is left empty.
func Load(path string) (Config, error) {
	var c Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &c)
	} else {
		err = cleanenv.ReadEnv(&c)
	}
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base url is required")
	}
	switch c.Cache.Store {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown cache store %q", c.Cache.Store)
	}
	if c.Cache.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Rules returns the classification rules described by the cache section.
func (c Config) Rules() cachepolicy.Rules {
	return cachepolicy.Rules{
		Bypass:     c.Cache.Bypass,
		Short:      c.Cache.Short,
		ShortTTL:   c.Cache.ShortTTL.Duration(),
		DefaultTTL: c.Cache.DefaultTTL.Duration(),
	}
}

// NewStore creates the configured entry store.
func (c Config) NewStore() (cache.Store, error) {
	if c.Cache.Store == StoreSQLite {
		return cache.NewSQLiteStore(cache.MemoryDSN)
	}
	return cache.NewMemStore(), nil
}

func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.DebugLevel
	}
	return level
}

// Dump writes the config as YAML, in a form Load accepts.
func Dump(w io.Writer, c Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Usage writes the environment variables Load understands.
func Usage(w io.Writer) {
	var c Config
	cleanenv.FUsage(w, &c, nil)()
}

// Duration is a time.Duration written as "30s" in YAML and the environment.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// SetValue implements cleanenv.Setter.
func (d *Duration) SetValue(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.SetValue(node.Value)
}
