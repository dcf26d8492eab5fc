package entityserver

import (
	"github.com/eigr/permastate-go/internal/domains/discovery"
	"github.com/eigr/permastate-go/pkg/models"
)

// Description is the JSON view of a handshake reply used by `entityd describe`
// and the admin /discovery endpoint.
type Description struct {
	Entities        []models.Entity              `json:"entities"`
	ServiceInfo     *models.ServiceInfo          `json:"service_info"`
	SchemaBytes     int                          `json:"schema_bytes"`
	Descriptor      *discovery.DescriptorSummary `json:"descriptor,omitempty"`
	DescriptorError string                       `json:"descriptor_error,omitempty"`
	Protocol        map[string]any               `json:"protocol"`
	Routes          []string                     `json:"routes,omitempty"`
}

func Describe(spec *models.EntitySpec, routes []string) Description {
	d := Description{
		Entities:    spec.Entities,
		ServiceInfo: spec.ServiceInfo,
		SchemaBytes: len(spec.Proto),
		Protocol:    discovery.ProtocolPolicy(),
		Routes:      routes,
	}
	summary, err := discovery.InspectDescriptorSet(spec.Proto)
	if err != nil {
		d.DescriptorError = err.Error()
		return d
	}
	d.Descriptor = &summary
	return d
}
