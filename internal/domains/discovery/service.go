package discovery

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/eigr/permastate-go/internal/app"
	"github.com/eigr/permastate-go/pkg/models"
)

const (
	SupportLibraryName = "permastate-go-support"

	modulePath             = "github.com/eigr/permastate-go"
	fallbackLibraryVersion = "0.5.0"
)

// Service answers the discovery handshake for one configured entity service.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	cfg     app.ServiceConfig
	schema  SchemaSource
	info    models.ServiceInfo
	logger  *slog.Logger
	metrics *Metrics
}

func NewService(cfg app.ServiceConfig, schema SchemaSource, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		schema: schema,
		info: models.ServiceInfo{
			ServiceName:           cfg.ServiceName(),
			ServiceVersion:        cfg.ServiceVersion(),
			ServiceRuntime:        runtime.Version(),
			SupportLibraryName:    SupportLibraryName,
			SupportLibraryVersion: SupportLibraryVersion(),
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Discover reports the configured entity and the schema artifact. info is
// untrusted and only logged; a nil info is treated as empty.
func (s *Service) Discover(ctx context.Context, info *models.ProxyInfo) (*models.EntitySpec, error) {
	if info == nil {
		info = &models.ProxyInfo{}
	}
	s.logger.Info("discovery request",
		"proxy_name", info.ProxyName,
		"proxy_version", info.ProxyVersion,
		"protocol_major", info.ProtocolMajorVersion,
		"protocol_minor", info.ProtocolMinorVersion,
		"supported_entity_types", info.SupportedEntityTypes,
	)
	if verdict := CheckProtocol(info.ProtocolMajorVersion, info.ProtocolMinorVersion); !verdict.Compatible {
		s.metrics.observeIncompatible()
		s.logger.Warn("proxy protocol outside supported range", "reason", verdict.Reason)
	}
	entityType := s.cfg.EntityKind().ProtocolName()
	if len(info.SupportedEntityTypes) > 0 && !slices.Contains(info.SupportedEntityTypes, entityType) {
		s.logger.Warn("proxy does not advertise the configured entity type", "entity_type", entityType)
	}

	spec, err := s.Spec(ctx)
	if err != nil {
		s.metrics.observeHandshake("unavailable")
		s.logger.Error("discovery failed", "error", err)
		return nil, err
	}
	s.metrics.observeHandshake("ok")
	return spec, nil
}

// Spec builds the handshake reply without logging or counting a handshake.
func (s *Service) Spec(ctx context.Context) (*models.EntitySpec, error) {
	schema, err := s.schema.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrConfigurationUnavailable) {
			err = errors.Join(ErrConfigurationUnavailable, err)
		}
		return nil, err
	}
	serviceInfo := s.info
	return &models.EntitySpec{
		Proto: schema,
		Entities: []models.Entity{{
			EntityType:    s.cfg.EntityKind().ProtocolName(),
			ServiceName:   s.cfg.ServiceName(),
			PersistenceID: s.cfg.PersistenceID(),
		}},
		ServiceInfo: &serviceInfo,
	}, nil
}

// ReportError records a fault reported by the proxy. It never fails.
func (s *Service) ReportError(_ context.Context, report *models.UserFunctionError) error {
	msg := ""
	if report != nil {
		msg = report.Message
	}
	s.metrics.observeErrorReport()
	s.logger.Error("user function error reported by proxy", "message", msg, "service", s.cfg.ServiceName())
	return nil
}

// ServiceInfo returns the identity block embedded in every reply.
func (s *Service) ServiceInfo() models.ServiceInfo {
	return s.info
}

// SupportLibraryVersion is the version of this module as recorded in the build,
// or a fixed fallback for development builds.
func SupportLibraryVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return fallbackLibraryVersion
	}
	if bi.Main.Path == modulePath {
		if v := cleanModuleVersion(bi.Main.Version); v != "" {
			return v
		}
	}
	for _, dep := range bi.Deps {
		if dep.Path != modulePath {
			continue
		}
		if dep.Replace != nil {
			dep = dep.Replace
		}
		if v := cleanModuleVersion(dep.Version); v != "" {
			return v
		}
	}
	return fallbackLibraryVersion
}

func cleanModuleVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "(devel)" {
		return ""
	}
	return strings.TrimPrefix(v, "v")
}
