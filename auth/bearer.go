// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Bearer authenticates requests carrying an HS256-signed JWT in the
// Authorization header. The signing key is a shared secret; token expiry
// is enforced during verification.
type Bearer struct {
	// Key is the HS256 signing secret.
	Key []byte
}

// Authenticate implements [Authenticator].
func (b Bearer) Authenticate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return ErrUnauthenticated
	}
	if _, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256(), b.Key), jwt.WithValidate(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return nil
}

// BearerCredential signs a short-lived HS256 JWT for every request.
type BearerCredential struct {
	// Key is the HS256 signing secret shared with the agent.
	Key []byte
	// Issuer is recorded in the token's iss claim.
	Issuer string
	// TTL is the token lifetime. Defaults to one minute.
	TTL time.Duration
}

// Apply implements [Credential].
func (c BearerCredential) Apply(r *http.Request) error {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	now := time.Now()
	token, err := jwt.NewBuilder().
		Issuer(c.Issuer).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Build()
	if err != nil {
		return fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), c.Key))
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	r.Header.Set("Authorization", "Bearer "+string(signed))
	return nil
}
