// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package taskwire

import (
	"fmt"

	"github.com/go-json-experiment/json"
)

// PartKind identifies the variant of a message or artifact part.
type PartKind string

// Supported part kinds.
const (
	PartKindText PartKind = "text"
	PartKindData PartKind = "data"
)

// Part is one segment of a message or artifact. It is a tagged variant:
// a text part carries a string, a data part carries a structured object.
// The order of parts within a message or artifact is significant.
type Part struct {
	Kind PartKind       `json:"kind"`
	Text string         `json:"text,omitzero"`
	Data map[string]any `json:"data,omitzero"`
}

// NewTextPart creates a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewDataPart creates a data part.
func NewDataPart(data map[string]any) Part {
	return Part{Kind: PartKindData, Data: data}
}

// Validate ensures the part is well formed.
func (p Part) Validate() error {
	switch p.Kind {
	case PartKindText:
		if p.Text == "" {
			return fmt.Errorf("text part must carry text")
		}
	case PartKindData:
		if p.Data == nil {
			return fmt.Errorf("data part must carry data")
		}
	default:
		return fmt.Errorf("unknown part kind: %q", p.Kind)
	}
	return nil
}

// UnmarshalJSON rejects parts with an unknown kind tag at decode time so
// a malformed envelope never reaches the task store.
func (p *Part) UnmarshalJSON(data []byte) error {
	type plain Part
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Kind != PartKindText && decoded.Kind != PartKindData {
		return fmt.Errorf("unknown part kind: %q", decoded.Kind)
	}
	*p = Part(decoded)
	return nil
}

func clonePart(p Part) Part {
	out := Part{Kind: p.Kind, Text: p.Text}
	if p.Data != nil {
		out.Data = make(map[string]any, len(p.Data))
		for k, v := range p.Data {
			out.Data[k] = v
		}
	}
	return out
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = clonePart(p)
	}
	return out
}
