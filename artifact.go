// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package taskwire

import "fmt"

// Artifact is a unit of output produced by an executing capability.
// Artifacts are appended to the owning task record in emission order and
// are never mutated after being attached.
type Artifact struct {
	Name        string `json:"name"`
	Description string `json:"description,omitzero"`
	Parts       []Part `json:"parts"`
}

// NewDataArtifact creates an artifact carrying a single data part.
func NewDataArtifact(name string, data map[string]any) Artifact {
	return Artifact{Name: name, Parts: []Part{NewDataPart(data)}}
}

// NewTextArtifact creates an artifact carrying a single text part.
func NewTextArtifact(name, text string) Artifact {
	return Artifact{Name: name, Parts: []Part{NewTextPart(text)}}
}

// Validate ensures the artifact is well formed.
func (a Artifact) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("artifact name cannot be empty")
	}
	if len(a.Parts) == 0 {
		return fmt.Errorf("artifact must contain at least one part")
	}
	for i, part := range a.Parts {
		if err := part.Validate(); err != nil {
			return fmt.Errorf("artifact part %d: %w", i, err)
		}
	}
	return nil
}

func cloneArtifacts(artifacts []Artifact) []Artifact {
	if artifacts == nil {
		return nil
	}
	out := make([]Artifact, len(artifacts))
	for i, a := range artifacts {
		out[i] = Artifact{Name: a.Name, Description: a.Description, Parts: cloneParts(a.Parts)}
	}
	return out
}
