// Package discovery implements the cloudstate.EntityDiscovery handshake: it tells
// the sidecar which entity service this process hosts, how that service persists,
// and which schema the sidecar needs to decode its messages.
//
// The handshake never rejects a proxy for protocol mismatch. Compatibility is
// logged as advice and the decision is left to the proxy.
package discovery
