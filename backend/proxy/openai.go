package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"

	assistantInstruction = "You are a travel companion. Describe the given place in two or three short sentences " +
		"for a driver passing by. Mention what it is known for and anything useful for a stop. " +
		"If you do not know the place, say so briefly."
)

var (
	ErrEmptyCompletion = errors.New("completion has no content")
)

type (
	// OpenAI generates place descriptions with the chat completions API.
	OpenAI struct {
		client
		baseURL string
		apiKey  string
		model   string
	}

	chatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	chatRequest struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		MaxTokens   int           `json:"max_tokens"`
		Temperature float64       `json:"temperature"`
	}

	chatResponse struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
)

func NewOpenAI(cfg Config, model string) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		client:  newClient(cfg, "assistant-proxy"),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
	}
}

func (o *OpenAI) Describe(ctx context.Context, name string, lat, lon float64) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: assistantInstruction},
			{Role: "user", Content: fmt.Sprintf("%s (at %.5f, %.5f)", name, lat, lon)},
		},
		MaxTokens:   200,
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}

	body, err := o.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
