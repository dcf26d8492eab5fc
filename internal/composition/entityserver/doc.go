// Package entityserver owns the process listener. A Launcher accepts exactly one
// StartCommand, validates it, loads the schema artifact, binds the gRPC port and
// installs the request router as the only handler.
//
// The bind outcome is always reported to whoever issued the command: Start
// returns it directly, Issue delivers it on a channel.
package entityserver
