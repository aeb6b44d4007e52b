// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth provides pluggable request authentication for taskwire
// servers and the matching client-side credentials. The protocol itself
// is credential-agnostic: the server runs one Authenticator before any
// method dispatch, and a failure produces an unauthenticated error
// envelope with no side effects.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

// ErrUnauthenticated is returned by authenticators when a request
// carries a missing or invalid credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultAPIKeyHeader is the header carrying the shared secret when no
// other header is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// Scheme names advertised in agent manifests.
const (
	SchemeAPIKey = "apiKey"
	SchemeBearer = "bearer"
)

// Authenticator checks the credential on an incoming request. It runs
// before any method dispatch and must not mutate server state.
type Authenticator interface {
	Authenticate(r *http.Request) error
}

// Credential attaches an outgoing credential to a client request.
type Credential interface {
	Apply(r *http.Request) error
}

// Allow accepts every request. It is the default for servers constructed
// without an authenticator and is intended for tests and local use.
type Allow struct{}

// Authenticate implements [Authenticator].
func (Allow) Authenticate(*http.Request) error { return nil }

// APIKey authenticates requests by comparing a header against a shared
// secret in constant time.
type APIKey struct {
	// Header is the header carrying the key. Defaults to
	// [DefaultAPIKeyHeader] when empty.
	Header string
	// Secret is the shared secret.
	Secret string
}

// Authenticate implements [Authenticator].
func (a APIKey) Authenticate(r *http.Request) error {
	header := a.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	got := r.Header.Get(header)
	if got == "" {
		return ErrUnauthenticated
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.Secret)) != 1 {
		return ErrUnauthenticated
	}
	return nil
}

// APIKeyCredential sends a shared secret on every request.
type APIKeyCredential struct {
	// Header is the header carrying the key. Defaults to
	// [DefaultAPIKeyHeader] when empty.
	Header string
	// Secret is the shared secret.
	Secret string
}

// Apply implements [Credential].
func (c APIKeyCredential) Apply(r *http.Request) error {
	header := c.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	r.Header.Set(header, c.Secret)
	return nil
}
