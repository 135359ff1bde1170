//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package model provides the interface generators use to talk to LLM
// completion backends.
package model

import "context"

// Model is the interface for all language models.
type Model interface {
	// GenerateContent produces completions for the request. Responses are
	// delivered on the returned channel; the final response has Done set.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)
	// Info returns basic information about the model.
	Info() Info
}

// Info describes a model implementation.
type Info struct {
	// Name is the model identifier, e.g. "gpt-4o-mini".
	Name string
}

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the role of the message author.
	Role Role `json:"role"`
	// Content is the message content.
	Content string `json:"content,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// GenerationConfig contains the per-request generation parameters.
type GenerationConfig struct {
	// MaxTokens caps the completion length when > 0.
	MaxTokens int `json:"max_tokens,omitempty"`
	// Temperature overrides the sampling temperature when non-nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Request is a completion request.
type Request struct {
	// Messages is the conversation so far, system prompt included.
	Messages []Message `json:"messages"`
	// GenerationConfig tunes the completion.
	GenerationConfig GenerationConfig `json:"generation_config"`
}

// Choice is one completion choice.
type Choice struct {
	// Index is the choice index.
	Index int `json:"index"`
	// Message is the completed message.
	Message Message `json:"message"`
}

// ResponseError carries a backend-reported error inside a Response, as
// opposed to function-level errors returned by GenerateContent.
type ResponseError struct {
	// Message is a human-readable error description.
	Message string `json:"message"`
	// Type classifies the error, e.g. "api_error".
	Type string `json:"type"`
}

// Error type constants for ResponseError.
const (
	ErrorTypeAPIError = "api_error"
)

// Response is a completion response.
type Response struct {
	// ID is the backend-assigned response identifier.
	ID string `json:"id,omitempty"`
	// Model is the model that produced the response.
	Model string `json:"model,omitempty"`
	// Choices holds the completion choices.
	Choices []Choice `json:"choices,omitempty"`
	// Error is set when the backend reported a failure.
	Error *ResponseError `json:"error,omitempty"`
	// Done is true on the final response for a request.
	Done bool `json:"-"`
}
