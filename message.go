// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package taskwire

import (
	"fmt"
	"strings"
)

// Role identifies the sender of a message.
type Role string

// Message roles.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one entry in a task's conversation history. Every task
// starts with the user message that triggered it.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// NewUserMessage creates a user message from the given parts.
func NewUserMessage(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// NewAgentTextMessage creates an agent message containing a single text
// part. Executors use it for progress and diagnostic status messages.
func NewAgentTextMessage(text string) Message {
	return Message{Role: RoleAgent, Parts: []Part{NewTextPart(text)}}
}

// Validate ensures the message is well formed.
func (m Message) Validate() error {
	if m.Role != RoleUser && m.Role != RoleAgent {
		return fmt.Errorf("invalid message role: %q", m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message must contain at least one part")
	}
	for i, part := range m.Parts {
		if err := part.Validate(); err != nil {
			return fmt.Errorf("message part %d: %w", i, err)
		}
	}
	return nil
}

// Text joins the content of all text parts with newlines. It returns an
// empty string when the message has no text parts.
func (m Message) Text() string {
	var texts []string
	for _, part := range m.Parts {
		if part.Kind == PartKindText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func cloneMessage(m Message) Message {
	return Message{Role: m.Role, Parts: cloneParts(m.Parts)}
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out
}
