// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package taskwire

import (
	"fmt"

	"github.com/go-json-experiment/json/jsontext"
)

// Request is a JSON-RPC 2.0 request envelope. Params and ID are kept as
// raw JSON so the dispatcher can route on the method before decoding
// method-specific parameters, and so the ID is echoed back verbatim
// whether the caller sent a string or a number.
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  jsontext.Value `json:"params,omitzero"`
	ID      jsontext.Value `json:"id,omitzero"`
}

// Response is a JSON-RPC 2.0 response envelope. Result and Error are
// mutually exclusive; ID echoes the request ID verbatim.
type Response struct {
	JSONRPC string         `json:"jsonrpc"`
	Result  jsontext.Value `json:"result,omitzero"`
	Error   *Error         `json:"error,omitzero"`
	ID      jsontext.Value `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitzero"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	// CodeParseError indicates an invalid JSON payload.
	CodeParseError = -32700
	// CodeInvalidRequest indicates a payload that is not a valid request
	// envelope.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound indicates the method does not exist.
	CodeMethodNotFound = -32601
	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams = -32602
	// CodeInternalError indicates an internal server error.
	CodeInternalError = -32603
)

// Protocol-specific error codes.
const (
	// CodeTaskNotFound indicates the requested task ID is unknown.
	CodeTaskNotFound = -32001
	// CodeUnauthenticated indicates the request carried no valid
	// credential.
	CodeUnauthenticated = -32003
)

// NewParseError creates an error for an unparseable payload.
func NewParseError() *Error {
	return &Error{Code: CodeParseError, Message: "invalid JSON payload"}
}

// NewInvalidRequestError creates an error for a malformed envelope.
func NewInvalidRequestError() *Error {
	return &Error{Code: CodeInvalidRequest, Message: "invalid request"}
}

// NewMethodNotFoundError creates an error for an unknown method.
func NewMethodNotFoundError(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Message: "method not found", Data: method}
}

// NewInvalidParamsError creates an error for undecodable or invalid
// method parameters.
func NewInvalidParamsError(detail string) *Error {
	return &Error{Code: CodeInvalidParams, Message: "invalid parameters", Data: detail}
}

// NewInternalError creates an error carrying a diagnostic string for a
// failure during dispatch.
func NewInternalError(detail string) *Error {
	return &Error{Code: CodeInternalError, Message: "internal error", Data: detail}
}

// NewTaskNotFoundError creates an error for an unknown task ID.
func NewTaskNotFoundError(taskID string) *Error {
	return &Error{Code: CodeTaskNotFound, Message: "task not found", Data: taskID}
}

// NewUnauthenticatedError creates an error for a failed credential check.
func NewUnauthenticatedError() *Error {
	return &Error{Code: CodeUnauthenticated, Message: "unauthenticated"}
}

// SendParams are the parameters of a tasks/send request.
type SendParams struct {
	// Capability is the id of the capability to invoke; it must be
	// listed in the agent's manifest.
	Capability string `json:"capability"`
	// Message is the triggering user message; it seeds the task history.
	Message Message `json:"message"`
}

// GetParams are the parameters of a tasks/get request.
type GetParams struct {
	// ID is the task to look up.
	ID string `json:"id"`
	// IncludeHistory requests the full message history in the snapshot.
	// It defaults to false to keep polling responses small.
	IncludeHistory bool `json:"includeHistory,omitzero"`
}
