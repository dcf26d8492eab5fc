package app

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

const (
	DefaultServiceVersion = "0.5.0"
	DefaultDescriptorPath = "user-function.desc"
	DefaultListenHost     = "0.0.0.0"
	DefaultListenPort     = 8080
)

// ServiceOptions is the mutable input to NewServiceConfig. It is never retained.
type ServiceOptions struct {
	EntityKind     EntityKind
	ServiceName    string
	PersistenceID  string
	ServiceVersion string
	DescriptorPath string
	ListenHost     string
	ListenPort     int
}

// ServiceConfig is the static identity of one registered entity service.
// The zero value is not valid; build it with NewServiceConfig.
type ServiceConfig struct {
	entityKind     EntityKind
	serviceName    string
	persistenceID  string
	serviceVersion string
	descriptorPath string
	listenHost     string
	listenPort     int
}

// ValidationError reports a single constraint violation on ServiceOptions.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err carries at least one ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewServiceConfig validates opts and returns an immutable ServiceConfig.
// Empty version, descriptor path and host fall back to their defaults; every other
// violation is returned, joined, as *ValidationError values.
func NewServiceConfig(opts ServiceOptions) (ServiceConfig, error) {
	cfg := ServiceConfig{
		entityKind:     opts.EntityKind,
		serviceName:    strings.TrimSpace(opts.ServiceName),
		persistenceID:  strings.TrimSpace(opts.PersistenceID),
		serviceVersion: opts.ServiceVersion,
		descriptorPath: strings.TrimSpace(opts.DescriptorPath),
		listenHost:     strings.TrimSpace(opts.ListenHost),
		listenPort:     opts.ListenPort,
	}
	if strings.TrimSpace(cfg.serviceVersion) == "" {
		cfg.serviceVersion = DefaultServiceVersion
	}
	if cfg.descriptorPath == "" {
		cfg.descriptorPath = DefaultDescriptorPath
	}
	if cfg.listenHost == "" {
		cfg.listenHost = DefaultListenHost
	}

	var errs []error
	if !cfg.entityKind.Valid() {
		errs = append(errs, &ValidationError{Field: "entity_kind", Reason: "must be EventSourced, Crdt or StatelessFunction"})
	}
	if reason := checkServiceName(cfg.serviceName); reason != "" {
		errs = append(errs, &ValidationError{Field: "service_name", Reason: reason})
	}
	if cfg.persistenceID == "" && cfg.entityKind != EntityKindStatelessFunction {
		errs = append(errs, &ValidationError{Field: "persistence_id", Reason: "is required for stateful entities"})
	}
	if strings.ContainsFunc(cfg.serviceVersion, unicode.IsControl) {
		errs = append(errs, &ValidationError{Field: "service_version", Reason: "must not contain control characters"})
	}
	if cfg.listenPort < 1 || cfg.listenPort > 65535 {
		errs = append(errs, &ValidationError{Field: "listen_port", Reason: fmt.Sprintf("must be within 1..65535 (got %d)", cfg.listenPort)})
	}
	if strings.ContainsAny(cfg.listenHost, " /") {
		errs = append(errs, &ValidationError{Field: "listen_host", Reason: fmt.Sprintf("malformed host %q", cfg.listenHost)})
	}
	if len(errs) > 0 {
		return ServiceConfig{}, errors.Join(errs...)
	}
	return cfg, nil
}

func checkServiceName(name string) string {
	if name == "" {
		return "is required"
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return fmt.Sprintf("malformed name %q", name)
	}
	for _, r := range name {
		if r == '/' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Sprintf("name %q contains a forbidden character", name)
		}
	}
	return ""
}

func (c ServiceConfig) EntityKind() EntityKind { return c.entityKind }
func (c ServiceConfig) ServiceName() string    { return c.serviceName }
func (c ServiceConfig) PersistenceID() string  { return c.persistenceID }

// ServiceVersion is reported verbatim as service_info.service_version.
func (c ServiceConfig) ServiceVersion() string { return c.serviceVersion }
func (c ServiceConfig) DescriptorPath() string { return c.descriptorPath }
func (c ServiceConfig) ListenHost() string     { return c.listenHost }
func (c ServiceConfig) ListenPort() int        { return c.listenPort }

// ListenAddr is the host:port the lifecycle binds.
func (c ServiceConfig) ListenAddr() string {
	return net.JoinHostPort(c.listenHost, strconv.Itoa(c.listenPort))
}

// Valid reports whether c was produced by a successful NewServiceConfig call.
func (c ServiceConfig) Valid() bool {
	return c.entityKind.Valid() && c.serviceName != "" && c.listenPort > 0
}
