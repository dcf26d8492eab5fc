// Package models holds the messages of the cloudstate.EntityDiscovery protocol and
// their protobuf wire encoding.
package models

// Fully-qualified names of the discovery service and its methods.
const (
	EntityDiscoveryService = "cloudstate.EntityDiscovery"
	DiscoverMethod         = "Discover"
	ReportErrorMethod      = "ReportError"
)

// ProxyInfo is sent by the sidecar when it opens the discovery handshake.
// Its contents are unvalidated peer input.
type ProxyInfo struct {
	ProtocolMajorVersion int32    `json:"protocol_major_version"`
	ProtocolMinorVersion int32    `json:"protocol_minor_version"`
	ProxyName            string   `json:"proxy_name"`
	ProxyVersion         string   `json:"proxy_version"`
	SupportedEntityTypes []string `json:"supported_entity_types"`
}

// EntitySpec is the handshake reply describing this process.
type EntitySpec struct {
	// Proto is the serialized google.protobuf.FileDescriptorSet of the user function.
	Proto       []byte       `json:"proto"`
	Entities    []Entity     `json:"entities"`
	ServiceInfo *ServiceInfo `json:"service_info"`
}

// Entity describes one registered entity service.
type Entity struct {
	EntityType    string `json:"entity_type"`
	ServiceName   string `json:"service_name"`
	PersistenceID string `json:"persistence_id"`
}

type ServiceInfo struct {
	ServiceName           string `json:"service_name"`
	ServiceVersion        string `json:"service_version"`
	ServiceRuntime        string `json:"service_runtime"`
	SupportLibraryName    string `json:"support_library_name"`
	SupportLibraryVersion string `json:"support_library_version"`
}

// UserFunctionError is a fault report pushed by the sidecar.
type UserFunctionError struct {
	Message string `json:"message"`
}
