package discovery

import "fmt"

const (
	protocolMajorVersion    = 0
	protocolMinMinorVersion = 1
	protocolMaxMinorVersion = 2
)

// Compatibility is the advisory verdict logged for each handshake.
type Compatibility struct {
	Compatible bool
	Reason     string
}

// CheckProtocol compares a proxy's protocol version with the range this runtime
// was written against. The result is advice only.
func CheckProtocol(major, minor int32) Compatibility {
	if major != protocolMajorVersion {
		return Compatibility{Reason: fmt.Sprintf("proxy protocol major version %d differs from supported %d", major, protocolMajorVersion)}
	}
	if minor < protocolMinMinorVersion {
		return Compatibility{Reason: fmt.Sprintf("proxy protocol %d.%d is older than supported %d.%d", major, minor, protocolMajorVersion, protocolMinMinorVersion)}
	}
	if minor > protocolMaxMinorVersion {
		return Compatibility{Reason: fmt.Sprintf("proxy protocol %d.%d is newer than supported %d.%d", major, minor, protocolMajorVersion, protocolMaxMinorVersion)}
	}
	return Compatibility{Compatible: true}
}

func ProtocolPolicy() map[string]any {
	return map[string]any{
		"major_version":     protocolMajorVersion,
		"min_minor_version": protocolMinMinorVersion,
		"max_minor_version": protocolMaxMinorVersion,
		"policy":            "advisory; mismatching proxies are logged and still answered",
	}
}
