package rpc

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"google.golang.org/grpc"
)

// Handler serves every method of one fully-qualified gRPC service.
type Handler interface {
	ServiceName() string
	// Handle receives the method segment of the request path and the raw stream.
	Handle(method string, stream grpc.ServerStream) error
}

// RouteTable maps service names to handlers. It is immutable after construction.
type RouteTable struct {
	routes map[string]Handler
}

// NewRouteTable fails on a nil handler, a malformed service name or a duplicate.
func NewRouteTable(handlers ...Handler) (*RouteTable, error) {
	routes := make(map[string]Handler, len(handlers))
	for i, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("route %d: nil handler", i)
		}
		name := h.ServiceName()
		if !validServiceName(name) {
			return nil, fmt.Errorf("route %d: malformed service name %q", i, name)
		}
		if _, dup := routes[name]; dup {
			return nil, fmt.Errorf("route %d: duplicate service name %q", i, name)
		}
		routes[name] = h
	}
	return &RouteTable{routes: routes}, nil
}

func (t *RouteTable) Lookup(service string) (Handler, bool) {
	if t == nil {
		return nil, false
	}
	h, ok := t.routes[service]
	return h, ok
}

// Services returns the registered names in sorted order.
func (t *RouteTable) Services() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.routes))
	for name := range t.routes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseFullMethod splits "/<service>/<method>" into its two segments.
func ParseFullMethod(fullMethod string) (service, method string, err error) {
	rest, ok := strings.CutPrefix(fullMethod, "/")
	if !ok {
		return "", "", fmt.Errorf("%w: path %q must start with /", ErrInvalidRequest, fullMethod)
	}
	service, method, ok = strings.Cut(rest, "/")
	if !ok || service == "" || method == "" {
		return "", "", fmt.Errorf("%w: path %q must be /<service>/<method>", ErrInvalidRequest, fullMethod)
	}
	if strings.Contains(method, "/") {
		return "", "", fmt.Errorf("%w: path %q has extra segments", ErrInvalidRequest, fullMethod)
	}
	return service, method, nil
}

func validServiceName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return false
	}
	return !strings.ContainsFunc(name, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r) || unicode.IsControl(r)
	})
}
