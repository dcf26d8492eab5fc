package entityconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eigr/permastate-go/internal/adapters/rpc"
	"github.com/eigr/permastate-go/internal/app"
	"github.com/eigr/permastate-go/internal/domains/discovery"
)

const envPrefix = "ENTITYD_"

// FileConfig is the YAML layout of an entityd config file. Pointer fields
// distinguish "unset" from an explicit false.
type FileConfig struct {
	Service ServiceSection `yaml:"service"`
	Server  ServerSection  `yaml:"server"`
	Log     LogSection     `yaml:"log"`
}

type ServiceSection struct {
	EntityType     string `yaml:"entityType"`
	ServiceName    string `yaml:"serviceName"`
	PersistenceID  string `yaml:"persistenceId"`
	ServiceVersion string `yaml:"serviceVersion"`
	DescriptorPath string `yaml:"descriptorPath"`
}

type ServerSection struct {
	Host              string           `yaml:"host"`
	Port              int              `yaml:"port"`
	SchemaCache       *bool            `yaml:"schemaCache"`
	SchemaReadTimeout time.Duration    `yaml:"schemaReadTimeout"`
	RateLimit         RateLimitSection `yaml:"rateLimit"`
	Streams           StreamsSection   `yaml:"streams"`
	AdminAddr         string           `yaml:"adminAddr"`
}

type RateLimitSection struct {
	Enabled *bool   `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type StreamsSection struct {
	MaxGlobal  int `yaml:"maxGlobal"`
	MaxPerPeer int `yaml:"maxPerPeer"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Settings is the resolved configuration: defaults, then file, then environment.
type Settings struct {
	EntityType     string
	ServiceName    string
	PersistenceID  string
	ServiceVersion string
	DescriptorPath string

	Host              string
	Port              int
	SchemaCache       bool
	SchemaReadTimeout time.Duration
	RateLimitEnabled  bool
	RateLimitRPS      float64
	RateLimitBurst    int
	MaxStreamsGlobal  int
	MaxStreamsPerPeer int
	AdminAddr         string

	LogLevel  string
	LogFormat string

	// Source is the file the settings were read from, empty when none was found.
	Source string
}

func Defaults() Settings {
	rateLimit := rpc.DefaultRateLimitConfig()
	streams := rpc.DefaultStreamLimitConfig()
	return Settings{
		EntityType:        "eventsourced",
		ServiceVersion:    app.DefaultServiceVersion,
		DescriptorPath:    app.DefaultDescriptorPath,
		Host:              app.DefaultListenHost,
		Port:              app.DefaultListenPort,
		SchemaCache:       true,
		SchemaReadTimeout: discovery.DefaultSchemaReadTimeout,
		RateLimitEnabled:  rateLimit.Enabled,
		RateLimitRPS:      rateLimit.RPS,
		RateLimitBurst:    rateLimit.Burst,
		MaxStreamsGlobal:  streams.MaxGlobal,
		MaxStreamsPerPeer: streams.MaxPerPeer,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// DefaultPaths are tried in order when no config path is given.
var DefaultPaths = []string{
	"configs/entityd.yaml",
	"entityd.yaml",
}

// LoadFromPath resolves settings. An explicit configPath must exist and parse;
// without one the first readable default path is used, and no file at all is
// not an error.
func LoadFromPath(configPath string) (Settings, error) {
	cfg := Defaults()

	if configPath != "" {
		parsed, err := readFile(configPath)
		if err != nil {
			return Settings{}, err
		}
		Merge(&cfg, parsed)
		cfg.Source = configPath
	} else {
		for _, path := range DefaultPaths {
			parsed, err := readFile(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return Settings{}, err
			}
			Merge(&cfg, parsed)
			cfg.Source = path
			break
		}
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func readFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var parsed FileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return FileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return parsed, nil
}

func Merge(dst *Settings, src FileConfig) {
	if src.Service.EntityType != "" {
		dst.EntityType = src.Service.EntityType
	}
	if src.Service.ServiceName != "" {
		dst.ServiceName = src.Service.ServiceName
	}
	if src.Service.PersistenceID != "" {
		dst.PersistenceID = src.Service.PersistenceID
	}
	if src.Service.ServiceVersion != "" {
		dst.ServiceVersion = src.Service.ServiceVersion
	}
	if src.Service.DescriptorPath != "" {
		dst.DescriptorPath = src.Service.DescriptorPath
	}
	if src.Server.Host != "" {
		dst.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		dst.Port = src.Server.Port
	}
	if src.Server.SchemaCache != nil {
		dst.SchemaCache = *src.Server.SchemaCache
	}
	if src.Server.SchemaReadTimeout != 0 {
		dst.SchemaReadTimeout = src.Server.SchemaReadTimeout
	}
	if src.Server.RateLimit.Enabled != nil {
		dst.RateLimitEnabled = *src.Server.RateLimit.Enabled
	}
	if src.Server.RateLimit.RPS != 0 {
		dst.RateLimitRPS = src.Server.RateLimit.RPS
	}
	if src.Server.RateLimit.Burst != 0 {
		dst.RateLimitBurst = src.Server.RateLimit.Burst
	}
	if src.Server.Streams.MaxGlobal != 0 {
		dst.MaxStreamsGlobal = src.Server.Streams.MaxGlobal
	}
	if src.Server.Streams.MaxPerPeer != 0 {
		dst.MaxStreamsPerPeer = src.Server.Streams.MaxPerPeer
	}
	if src.Server.AdminAddr != "" {
		dst.AdminAddr = src.Server.AdminAddr
	}
	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.LogFormat = src.Log.Format
	}
}

// ApplyEnvOverrides applies ENTITYD_* variables. Malformed numeric or boolean
// values are reported rather than ignored.
func ApplyEnvOverrides(cfg *Settings) error {
	strs := map[string]*string{
		"ENTITY_TYPE":     &cfg.EntityType,
		"SERVICE_NAME":    &cfg.ServiceName,
		"PERSISTENCE_ID":  &cfg.PersistenceID,
		"SERVICE_VERSION": &cfg.ServiceVersion,
		"DESCRIPTOR_PATH": &cfg.DescriptorPath,
		"HOST":            &cfg.Host,
		"ADMIN_ADDR":      &cfg.AdminAddr,
		"LOG_LEVEL":       &cfg.LogLevel,
		"LOG_FORMAT":      &cfg.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}

	var errs []error
	ints := map[string]*int{
		"PORT":                 &cfg.Port,
		"RATE_LIMIT_BURST":     &cfg.RateLimitBurst,
		"MAX_STREAMS_GLOBAL":   &cfg.MaxStreamsGlobal,
		"MAX_STREAMS_PER_PEER": &cfg.MaxStreamsPerPeer,
	}
	for key, dst := range ints {
		if v, ok := lookupEnv(key); ok {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				continue
			}
			*dst = parsed
		}
	}
	bools := map[string]*bool{
		"SCHEMA_CACHE":       &cfg.SchemaCache,
		"RATE_LIMIT_ENABLED": &cfg.RateLimitEnabled,
	}
	for key, dst := range bools {
		if v, ok := lookupEnv(key); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				continue
			}
			*dst = parsed
		}
	}
	if v, ok := lookupEnv("RATE_LIMIT_RPS"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT_RPS: %w", envPrefix, err))
		} else {
			cfg.RateLimitRPS = parsed
		}
	}
	if v, ok := lookupEnv("SCHEMA_READ_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSCHEMA_READ_TIMEOUT: %w", envPrefix, err))
		} else {
			cfg.SchemaReadTimeout = parsed
		}
	}
	return errors.Join(errs...)
}

func lookupEnv(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

// ServiceConfig validates the service and listener settings.
func (s Settings) ServiceConfig() (app.ServiceConfig, error) {
	kind, err := app.ParseEntityKind(s.EntityType)
	if err != nil {
		return app.ServiceConfig{}, &app.ValidationError{Field: "entity_kind", Reason: err.Error()}
	}
	return app.NewServiceConfig(app.ServiceOptions{
		EntityKind:     kind,
		ServiceName:    s.ServiceName,
		PersistenceID:  s.PersistenceID,
		ServiceVersion: s.ServiceVersion,
		DescriptorPath: s.DescriptorPath,
		ListenHost:     s.Host,
		ListenPort:     s.Port,
	})
}
