package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type namedHandler struct {
	name   string
	handle func(method string, stream grpc.ServerStream) error
}

func (h namedHandler) ServiceName() string { return h.name }

func (h namedHandler) Handle(method string, stream grpc.ServerStream) error {
	if h.handle == nil {
		return nil
	}
	return h.handle(method, stream)
}

func TestNewRouteTableRejectsBadRoutes(t *testing.T) {
	_, err := NewRouteTable(namedHandler{name: "a.B"}, namedHandler{name: "a.B"})
	assert.ErrorContains(t, err, "duplicate")

	for _, name := range []string{"", "a/b", ".a", "a.", "a..b", "a b", "a\nb"} {
		_, err := NewRouteTable(namedHandler{name: name})
		assert.ErrorContains(t, err, "malformed", "name %q", name)
	}

	_, err = NewRouteTable(nil)
	assert.ErrorContains(t, err, "nil handler")
}

func TestRouteTableLookup(t *testing.T) {
	table, err := NewRouteTable(
		namedHandler{name: "cloudstate.EntityDiscovery"},
		namedHandler{name: HealthService},
	)
	require.NoError(t, err)

	h, ok := table.Lookup("cloudstate.EntityDiscovery")
	require.True(t, ok)
	assert.Equal(t, "cloudstate.EntityDiscovery", h.ServiceName())

	_, ok = table.Lookup("cloudstate.entitydiscovery")
	assert.False(t, ok, "lookup is exact")
	assert.Equal(t, []string{"cloudstate.EntityDiscovery", "grpc.health.v1.Health"}, table.Services())

	var empty *RouteTable
	_, ok = empty.Lookup("x")
	assert.False(t, ok)
}

func TestParseFullMethod(t *testing.T) {
	service, method, err := ParseFullMethod("/cloudstate.EntityDiscovery/Discover")
	require.NoError(t, err)
	assert.Equal(t, "cloudstate.EntityDiscovery", service)
	assert.Equal(t, "Discover", method)

	for _, path := range []string{
		"",
		"/",
		"//",
		"cloudstate.EntityDiscovery/Discover",
		"/cloudstate.EntityDiscovery",
		"/cloudstate.EntityDiscovery/",
		"//Discover",
		"/a/b/c",
	} {
		_, _, err := ParseFullMethod(path)
		assert.ErrorIs(t, err, ErrInvalidRequest, "path %q", path)
	}
}
