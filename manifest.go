// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package taskwire

import "fmt"

// SchemaField describes one input field a capability accepts.
type SchemaField struct {
	Type        string `json:"type"`
	Description string `json:"description,omitzero"`
	Required    bool   `json:"required,omitzero"`
}

// InputSchema is a structural description of a capability's input: field
// name to field description.
type InputSchema map[string]SchemaField

// Capability describes one invocable skill an agent can perform. It is
// immutable once published in a manifest.
type Capability struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitzero"`
	InputSchema InputSchema `json:"inputSchema,omitzero"`
}

// Validate ensures the capability descriptor is well formed.
func (c Capability) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("capability ID cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("capability %q: name cannot be empty", c.ID)
	}
	return nil
}

// AgentManifest is the discovery document an agent serves at
// [ManifestPath]. It lists the agent's RPC endpoint, its capabilities,
// and the authentication schemes it accepts. The manifest is immutable
// for the lifetime of the agent process.
type AgentManifest struct {
	Name           string       `json:"name"`
	Description    string       `json:"description,omitzero"`
	Version        string       `json:"version"`
	URL            string       `json:"url"`
	Capabilities   []Capability `json:"capabilities"`
	Authentication []string     `json:"authentication,omitzero"`
}

// Validate ensures the manifest is well formed: non-empty identity fields,
// at least one capability, and capability ids unique within the manifest.
func (m *AgentManifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest name cannot be empty")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest version cannot be empty")
	}
	if len(m.Capabilities) == 0 {
		return fmt.Errorf("manifest must list at least one capability")
	}
	seen := make(map[string]bool, len(m.Capabilities))
	for _, c := range m.Capabilities {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate capability ID: %q", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// Capability returns the descriptor for the given id, if listed.
func (m *AgentManifest) Capability(id string) (Capability, bool) {
	for _, c := range m.Capabilities {
		if c.ID == id {
			return c, true
		}
	}
	return Capability{}, false
}

// CapabilityIDs returns the manifest's capability ids in declaration order.
func (m *AgentManifest) CapabilityIDs() []string {
	ids := make([]string, len(m.Capabilities))
	for i, c := range m.Capabilities {
		ids[i] = c.ID
	}
	return ids
}
