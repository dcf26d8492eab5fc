package models

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every protocol message in this package.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(data []byte) error
}

var (
	_ Message = (*ProxyInfo)(nil)
	_ Message = (*EntitySpec)(nil)
	_ Message = (*Entity)(nil)
	_ Message = (*ServiceInfo)(nil)
	_ Message = (*UserFunctionError)(nil)
	_ Message = (*RawFrame)(nil)
)

// ErrMalformedMessage is returned when a payload is not a valid protobuf encoding
// of the target message.
var ErrMalformedMessage = errors.New("malformed protobuf message")

// skipField is outside the range of protowire error codes.
const skipField = math.MinInt32

// Fields are always written in field-number order and zero values are omitted,
// so equal messages encode to identical bytes.

func (m *ProxyInfo) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendInt32(b, 1, m.ProtocolMajorVersion)
	b = appendInt32(b, 2, m.ProtocolMinorVersion)
	b = appendString(b, 3, m.ProxyName)
	b = appendString(b, 4, m.ProxyVersion)
	for _, t := range m.SupportedEntityTypes {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	return b, nil
}

func (m *ProxyInfo) UnmarshalWire(data []byte) error {
	*m = ProxyInfo{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.ProtocolMajorVersion = int32(v)
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.ProtocolMinorVersion = int32(v)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			return consumeString(b, "proxy_name", &m.ProxyName)
		case num == 4 && typ == protowire.BytesType:
			return consumeString(b, "proxy_version", &m.ProxyVersion)
		case num == 5 && typ == protowire.BytesType:
			var s string
			n, err := consumeString(b, "supported_entity_types", &s)
			if err == nil {
				m.SupportedEntityTypes = append(m.SupportedEntityTypes, s)
			}
			return n, err
		}
		return skipField, nil
	})
}

func (m *EntitySpec) MarshalWire() ([]byte, error) {
	var b []byte
	if len(m.Proto) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Proto)
	}
	for i := range m.Entities {
		sub, err := m.Entities[i].MarshalWire()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if m.ServiceInfo != nil {
		sub, err := m.ServiceInfo.MarshalWire()
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b, nil
}

func (m *EntitySpec) UnmarshalWire(data []byte) error {
	*m = EntitySpec{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case 1:
			m.Proto = bytes.Clone(v)
		case 2:
			var e Entity
			if err := e.UnmarshalWire(v); err != nil {
				return 0, fmt.Errorf("entities: %w", err)
			}
			m.Entities = append(m.Entities, e)
		case 3:
			if m.ServiceInfo == nil {
				m.ServiceInfo = &ServiceInfo{}
			}
			// Repeated occurrences of a message field merge into the previous value.
			var info ServiceInfo
			if err := info.UnmarshalWire(v); err != nil {
				return 0, fmt.Errorf("service_info: %w", err)
			}
			m.ServiceInfo.merge(info)
		default:
			return skipField, nil
		}
		return n, nil
	})
}

func (m *Entity) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.EntityType)
	b = appendString(b, 2, m.ServiceName)
	b = appendString(b, 3, m.PersistenceID)
	return b, nil
}

func (m *Entity) UnmarshalWire(data []byte) error {
	*m = Entity{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField, nil
		}
		switch num {
		case 1:
			return consumeString(b, "entity_type", &m.EntityType)
		case 2:
			return consumeString(b, "service_name", &m.ServiceName)
		case 3:
			return consumeString(b, "persistence_id", &m.PersistenceID)
		}
		return skipField, nil
	})
}

func (m *ServiceInfo) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.ServiceName)
	b = appendString(b, 2, m.ServiceVersion)
	b = appendString(b, 3, m.ServiceRuntime)
	b = appendString(b, 4, m.SupportLibraryName)
	b = appendString(b, 5, m.SupportLibraryVersion)
	return b, nil
}

func (m *ServiceInfo) UnmarshalWire(data []byte) error {
	*m = ServiceInfo{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField, nil
		}
		switch num {
		case 1:
			return consumeString(b, "service_name", &m.ServiceName)
		case 2:
			return consumeString(b, "service_version", &m.ServiceVersion)
		case 3:
			return consumeString(b, "service_runtime", &m.ServiceRuntime)
		case 4:
			return consumeString(b, "support_library_name", &m.SupportLibraryName)
		case 5:
			return consumeString(b, "support_library_version", &m.SupportLibraryVersion)
		}
		return skipField, nil
	})
}

func (m *ServiceInfo) merge(src ServiceInfo) {
	if src.ServiceName != "" {
		m.ServiceName = src.ServiceName
	}
	if src.ServiceVersion != "" {
		m.ServiceVersion = src.ServiceVersion
	}
	if src.ServiceRuntime != "" {
		m.ServiceRuntime = src.ServiceRuntime
	}
	if src.SupportLibraryName != "" {
		m.SupportLibraryName = src.SupportLibraryName
	}
	if src.SupportLibraryVersion != "" {
		m.SupportLibraryVersion = src.SupportLibraryVersion
	}
}

func (m *UserFunctionError) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.Message), nil
}

func (m *UserFunctionError) UnmarshalWire(data []byte) error {
	*m = UserFunctionError{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			return consumeString(b, "message", &m.Message)
		}
		return skipField, nil
	})
}

// RawFrame carries an undecoded payload through the codec so handlers can decode
// it themselves and report malformed input as a client error.
type RawFrame []byte

func (f *RawFrame) MarshalWire() ([]byte, error) { return *f, nil }

func (f *RawFrame) UnmarshalWire(data []byte) error {
	*f = bytes.Clone(data)
	return nil
}

// walkFields iterates over the top-level fields of data. visit returns the number of
// bytes it consumed, or skipField to have the field skipped as unknown.
func walkFields(data []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, protowire.ParseError(n))
		}
		data = data[n:]
		consumed, err := visit(num, typ, data)
		if err != nil {
			return err
		}
		if consumed == skipField {
			consumed = protowire.ConsumeFieldValue(num, typ, data)
		}
		if consumed < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, num, protowire.ParseError(consumed))
		}
		data = data[consumed:]
	}
	return nil
}

func consumeString(b []byte, field string, dst *string) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	if !utf8.Valid(v) {
		return 0, fmt.Errorf("%w: %s is not valid UTF-8", ErrMalformedMessage, field)
	}
	*dst = string(v)
	return n, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}
