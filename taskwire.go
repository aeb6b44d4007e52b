// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskwire provides the wire types for the Agent-to-Agent (A2A)
// task protocol: capability manifests served at a well-known discovery
// path, JSON-RPC 2.0 request/response envelopes, and the task record
// model tracked through a typed state machine until a terminal state.
//
// The server half of the protocol lives in the server package, the
// polling client in the client package, and pluggable request
// authentication in the auth package.
package taskwire

// Version is the protocol version advertised in agent manifests.
const Version = "0.1.0"

// ManifestPath is the well-known HTTP path where an agent serves its
// manifest for discovery.
const ManifestPath = "/.well-known/agent.json"

// A2A RPC method names.
const (
	// MethodTasksSend is the method name for submitting a task.
	MethodTasksSend = "tasks/send"
	// MethodTasksGet is the method name for retrieving a task snapshot.
	MethodTasksGet = "tasks/get"
)
