//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI-compatible model implementation.
package openai

import (
	"context"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"trpc.group/trpc-go/trpc-scriptflow/model"
)

// defaultChannelBufferSize is the default response channel buffer size.
const defaultChannelBufferSize = 16

// options contains configuration options for creating a Model.
type options struct {
	// API key for the OpenAI client.
	APIKey string
	// Base URL for the OpenAI client. Optional for OpenAI-compatible APIs.
	BaseURL string
	// Buffer size for response channels.
	ChannelBufferSize int
	// Extra request options passed through to the OpenAI client.
	OpenAIOptions []openaiopt.RequestOption
	// RequestTimeout bounds a single completion call when > 0.
	RequestTimeout time.Duration
}

var defaultOptions = options{
	ChannelBufferSize: defaultChannelBufferSize,
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the OpenAI client.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL sets the base URL for the OpenAI client.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(opts *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		opts.ChannelBufferSize = size
	}
}

// WithRequestTimeout bounds each completion call.
func WithRequestTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.RequestTimeout = d
	}
}

// WithOpenAIOptions appends raw request options for the OpenAI client.
func WithOpenAIOptions(o ...openaiopt.RequestOption) Option {
	return func(opts *options) {
		opts.OpenAIOptions = append(opts.OpenAIOptions, o...)
	}
}

// Model implements model.Model on top of the OpenAI chat completions API.
type Model struct {
	name              string
	client            openai.Client
	channelBufferSize int
	requestTimeout    time.Duration
}

// New creates an OpenAI-backed model with the given model name.
func New(name string, opts ...Option) *Model {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	clientOpts := make([]openaiopt.RequestOption, 0, len(o.OpenAIOptions)+2)
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)
	return &Model{
		name:              name,
		client:            openai.NewClient(clientOpts...),
		channelBufferSize: o.ChannelBufferSize,
		requestTimeout:    o.RequestTimeout,
	}
}

// Info returns basic information about the model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent issues a non-streaming chat completion request and
// delivers a single final response on the returned channel.
func (m *Model) GenerateContent(
	ctx context.Context, request *model.Request,
) (<-chan *model.Response, error) {
	responseChan := make(chan *model.Response, m.channelBufferSize)
	chatRequest := m.buildChatRequest(request)
	go func() {
		defer close(responseChan)
		callCtx := ctx
		if m.requestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.requestTimeout)
			defer cancel()
		}
		m.handleNonStreamingResponse(callCtx, chatRequest, responseChan)
	}()
	return responseChan, nil
}

func (m *Model) buildChatRequest(
	request *model.Request,
) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(request.Messages))
	for _, msg := range request.Messages {
		switch msg.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	chatRequest := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(m.name),
		Messages: messages,
	}
	if request.GenerationConfig.MaxTokens > 0 {
		chatRequest.MaxTokens = openai.Int(int64(request.GenerationConfig.MaxTokens))
	}
	if request.GenerationConfig.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.GenerationConfig.Temperature)
	}
	return chatRequest
}

// handleNonStreamingResponse handles non-streaming chat completion responses.
func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		errorResponse := &model.Response{
			Error: &model.ResponseError{
				Message: err.Error(),
				Type:    model.ErrorTypeAPIError,
			},
			Done: true,
		}
		select {
		case responseChan <- errorResponse:
		case <-ctx.Done():
		}
		return
	}

	response := &model.Response{
		ID:    chatCompletion.ID,
		Model: chatCompletion.Model,
		Done:  true,
	}
	if len(chatCompletion.Choices) > 0 {
		response.Choices = make([]model.Choice, len(chatCompletion.Choices))
		for i, choice := range chatCompletion.Choices {
			response.Choices[i] = model.Choice{
				Index: int(choice.Index),
				Message: model.Message{
					Role:    model.RoleAssistant,
					Content: choice.Message.Content,
				},
			}
		}
	}

	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}
