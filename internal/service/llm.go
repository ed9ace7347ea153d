package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/docsage/docsage/internal/config"
)

// Sampling temperatures per stage. Relevance classification is meant to be
// deterministic; answers allow a little variance.
const (
	relevanceTemperature float32 = 0.0
	answerTemperature    float32 = 0.2
)

// StreamDelta is one increment of a streaming completion. Done is sent
// exactly once, after the last content delta or an error.
type StreamDelta struct {
	Content string
	Done    bool
	Err     error
}

// LLMClient talks to an OpenAI-compatible chat endpoint (LM Studio, Ollama,
// or the real thing, depending on LLM_BASE_URL).
type LLMClient struct {
	client   *openai.Client
	chatName string
}

func NewLLMClient(cfg *config.Config) *LLMClient {
	oaiCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	oaiCfg.BaseURL = cfg.LLMBaseURL
	return &LLMClient{
		client:   openai.NewClientWithConfig(oaiCfg),
		chatName: cfg.ChatModel,
	}
}

type relevanceVerdict struct {
	IsRelevant *bool `json:"isRelevant"`
}

const relevanceInstruction = `You are a relevance classifier. Given a document excerpt and a user question, decide whether the excerpt contains information that helps answer the question. Respond with JSON only, in the form {"isRelevant": true} or {"isRelevant": false}.`

// Classify asks the model whether chunk helps answer query. Any transport
// failure or malformed reply is an error; the caller maps errors to "not
// relevant" so one bad chunk never sinks the batch.
func (l *LLMClient) Classify(ctx context.Context, chunk, query string) (bool, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.chatName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: relevanceInstruction},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Excerpt:\n%s\n\nQuestion: %s", chunk, query)},
		},
		Temperature: relevanceTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return false, fmt.Errorf("classify chunk: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, errors.New("classify chunk: no choices returned")
	}

	var v relevanceVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &v); err != nil {
		return false, fmt.Errorf("classify chunk: decode verdict: %w", err)
	}
	if v.IsRelevant == nil {
		return false, errors.New("classify chunk: verdict missing isRelevant")
	}
	return *v.IsRelevant, nil
}

// Answer runs a single-shot completion with the given system prompt.
func (l *LLMClient) Answer(ctx context.Context, system, prompt string) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.chatName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: answerTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// AnswerStream opens an incremental completion and forwards deltas on the
// returned channel. The channel is closed after the Done delta.
func (l *LLMClient) AnswerStream(ctx context.Context, system, prompt string) (<-chan StreamDelta, error) {
	stream, err := l.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: l.chatName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: answerTemperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat completion stream: %w", err)
	}

	out := make(chan StreamDelta)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- StreamDelta{Done: true}
				return
			}
			if err != nil {
				out <- StreamDelta{Err: fmt.Errorf("stream recv: %w", err), Done: true}
				return
			}
			if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
				out <- StreamDelta{Content: resp.Choices[0].Delta.Content}
			}
		}
	}()
	return out, nil
}

// ListModels proxies the upstream model list.
func (l *LLMClient) ListModels(ctx context.Context) ([]openai.Model, error) {
	resp, err := l.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Models, nil
}
