// Package app contains the core configuration contracts of the entity support
// runtime, independent of the transport that serves them.
//
// Responsibilities:
// - Define the entity protocol families and their wire names.
// - Build the immutable ServiceConfig through a validating constructor.
//
// Non-responsibilities:
// - Loading configuration from files or the environment (internal/bootstrap).
// - gRPC handling and routing (internal/adapters/rpc).
package app
