package discovery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigr/permastate-go/internal/app"
	"github.com/eigr/permastate-go/internal/testutil/schemafixture"
	"github.com/eigr/permastate-go/pkg/models"
)

func shoppingCartConfig(t *testing.T, version string) app.ServiceConfig {
	t.Helper()
	cfg, err := app.NewServiceConfig(app.ServiceOptions{
		EntityKind:     app.EntityKindEventSourced,
		ServiceName:    "ShoppingCart",
		PersistenceID:  "shopping-cart",
		ServiceVersion: version,
		ListenPort:     app.DefaultListenPort,
	})
	require.NoError(t, err)
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestDiscoverDescribesConfiguredEntity(t *testing.T) {
	schema := schemafixture.ShoppingCartDescriptorSet(t)
	svc := NewService(shoppingCartConfig(t, "0.5.0"), NewStaticSchema(schema), quietLogger(), nil)

	spec, err := svc.Discover(context.Background(), &models.ProxyInfo{
		ProtocolMinorVersion: 2,
		ProxyName:            "cloudstate-proxy-core",
		SupportedEntityTypes: []string{app.EventSourcedProtocol},
	})
	require.NoError(t, err)

	assert.Equal(t, schema, spec.Proto)
	assert.Equal(t, []models.Entity{{
		EntityType:    "cloudstate.eventsourced.EventSourced",
		ServiceName:   "ShoppingCart",
		PersistenceID: "shopping-cart",
	}}, spec.Entities)
	require.NotNil(t, spec.ServiceInfo)
	assert.Equal(t, models.ServiceInfo{
		ServiceName:           "ShoppingCart",
		ServiceVersion:        "0.5.0",
		ServiceRuntime:        runtime.Version(),
		SupportLibraryName:    "permastate-go-support",
		SupportLibraryVersion: SupportLibraryVersion(),
	}, *spec.ServiceInfo)
}

func TestDiscoverIgnoresProxyInfo(t *testing.T) {
	svc := NewService(shoppingCartConfig(t, ""), NewStaticSchema([]byte("schema")), quietLogger(), nil)

	infos := []*models.ProxyInfo{
		nil,
		{},
		{ProtocolMajorVersion: 7, ProtocolMinorVersion: -3, ProxyName: "other\nproxy"},
		{SupportedEntityTypes: []string{app.CrdtProtocol}},
	}
	var first []byte
	for _, info := range infos {
		spec, err := svc.Discover(context.Background(), info)
		require.NoError(t, err)
		require.Len(t, spec.Entities, 1)
		encoded, err := spec.MarshalWire()
		require.NoError(t, err)
		if first == nil {
			first = encoded
			continue
		}
		assert.Equal(t, first, encoded)
	}
}

func TestDiscoverReportsServiceVersionVerbatim(t *testing.T) {
	const version = " 2.0.0-rc.1+build.7 "
	svc := NewService(shoppingCartConfig(t, version), NewStaticSchema(nil), quietLogger(), nil)

	spec, err := svc.Discover(context.Background(), &models.ProxyInfo{})
	require.NoError(t, err)
	assert.Equal(t, version, spec.ServiceInfo.ServiceVersion)
}

func TestDiscoverMissingArtifactIsConfigurationUnavailable(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	schema := FileSchema{Path: filepath.Join(t.TempDir(), "missing.desc")}
	svc := NewService(shoppingCartConfig(t, ""), schema, quietLogger(), metrics)

	spec, err := svc.Discover(context.Background(), &models.ProxyInfo{})
	assert.Nil(t, spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigurationUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.handshakes.WithLabelValues("unavailable")))
}

type failingSchema struct{ err error }

func (f failingSchema) Load(context.Context) ([]byte, error) { return nil, f.err }

func TestDiscoverWrapsForeignSchemaErrors(t *testing.T) {
	cause := errors.New("disk on fire")
	svc := NewService(shoppingCartConfig(t, ""), failingSchema{err: cause}, quietLogger(), nil)

	_, err := svc.Discover(context.Background(), nil)
	assert.ErrorIs(t, err, ErrConfigurationUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestDiscoverCountsIncompatibleProxies(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewService(shoppingCartConfig(t, ""), NewStaticSchema(nil), quietLogger(), metrics)

	_, err := svc.Discover(context.Background(), &models.ProxyInfo{ProtocolMajorVersion: 1})
	require.NoError(t, err)
	_, err = svc.Discover(context.Background(), &models.ProxyInfo{ProtocolMinorVersion: 2})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.incompatible))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.handshakes.WithLabelValues("ok")))
}

func TestReportErrorAlwaysAcknowledges(t *testing.T) {
	var logs bytes.Buffer
	metrics := NewMetrics(prometheus.NewRegistry())
	svc := NewService(shoppingCartConfig(t, ""), NewStaticSchema(nil), slog.New(slog.NewTextHandler(&logs, nil)), metrics)

	require.NoError(t, svc.ReportError(context.Background(), &models.UserFunctionError{Message: "boom"}))
	require.NoError(t, svc.ReportError(context.Background(), nil))

	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "message=boom")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.errorReports))
}

func TestSupportLibraryVersionNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, SupportLibraryVersion())
	assert.Equal(t, "", cleanModuleVersion("(devel)"))
	assert.Equal(t, "1.2.3", cleanModuleVersion("v1.2.3"))
}

func TestCheckProtocol(t *testing.T) {
	cases := []struct {
		major, minor int32
		compatible   bool
	}{
		{0, 1, true},
		{0, 2, true},
		{0, 0, false},
		{0, 3, false},
		{1, 1, false},
		{-1, 2, false},
	}
	for _, tc := range cases {
		got := CheckProtocol(tc.major, tc.minor)
		assert.Equal(t, tc.compatible, got.Compatible, "%d.%d", tc.major, tc.minor)
		if !tc.compatible {
			assert.NotEmpty(t, got.Reason)
		}
	}
}
