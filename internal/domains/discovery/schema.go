package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/types/descriptorpb"
)

// DefaultSchemaReadTimeout bounds a single artifact read in file mode.
const DefaultSchemaReadTimeout = 2 * time.Second

// ErrConfigurationUnavailable is matched by every failure to produce the schema
// artifact at handshake time.
var ErrConfigurationUnavailable = errors.New("configuration unavailable")

// SchemaSource yields the serialized FileDescriptorSet embedded in the handshake
// reply. Implementations must return identical bytes for the process lifetime.
type SchemaSource interface {
	Load(ctx context.Context) ([]byte, error)
}

// StaticSchema serves bytes loaded once at startup.
type StaticSchema struct {
	data []byte
}

func NewStaticSchema(data []byte) StaticSchema {
	return StaticSchema{data: data}
}

// Preload reads the artifact at path once.
func Preload(path string) (StaticSchema, error) {
	data, err := readArtifact(path)
	if err != nil {
		return StaticSchema{}, err
	}
	return StaticSchema{data: data}, nil
}

func (s StaticSchema) Load(context.Context) ([]byte, error) {
	return s.data, nil
}

func (s StaticSchema) Len() int { return len(s.data) }

// FileSchema reads the artifact on every call. The read runs on its own goroutine
// so a slow filesystem never holds the calling stream past Timeout or ctx.
type FileSchema struct {
	Path    string
	Timeout time.Duration
}

func (s FileSchema) Load(ctx context.Context) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultSchemaReadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := readArtifact(s.Path)
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: reading schema artifact %q: %w", ErrConfigurationUnavailable, s.Path, ctx.Err())
	}
}

func readArtifact(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: schema artifact path is empty", ErrConfigurationUnavailable)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: schema artifact %q is not a regular file", ErrConfigurationUnavailable, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
	}
	return data, nil
}

// DescriptorSummary lists what a schema artifact declares.
type DescriptorSummary struct {
	Files    []string `json:"files"`
	Services []string `json:"services"`
	// ResolveError is set when the set parses but its imports cannot be linked,
	// typically because it was generated without --include_imports.
	ResolveError string `json:"resolve_error,omitempty"`
}

// HasService reports whether name matches a declared service by full name or by
// its last segment.
func (s DescriptorSummary) HasService(name string) bool {
	for _, svc := range s.Services {
		if svc == name {
			return true
		}
		if i := strings.LastIndexByte(svc, '.'); i >= 0 && svc[i+1:] == name {
			return true
		}
	}
	return false
}

// InspectDescriptorSet parses data as a google.protobuf.FileDescriptorSet.
func InspectDescriptorSet(data []byte) (DescriptorSummary, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return DescriptorSummary{}, fmt.Errorf("schema artifact is not a FileDescriptorSet: %w", err)
	}
	var summary DescriptorSummary
	for _, file := range set.GetFile() {
		summary.Files = append(summary.Files, file.GetName())
		for _, svc := range file.GetService() {
			name := svc.GetName()
			if pkg := file.GetPackage(); pkg != "" {
				name = pkg + "." + name
			}
			summary.Services = append(summary.Services, name)
		}
	}
	if _, err := protodesc.NewFiles(&set); err != nil {
		summary.ResolveError = err.Error()
	}
	return summary, nil
}
