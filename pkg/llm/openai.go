package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds the connection settings for an OpenAI-compatible provider.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient talks to any OpenAI-compatible chat completions endpoint.
// Structured output relies on prompt-injected schemas rather than the
// response_format flag, which several free providers reject.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a client for the configured provider.
func NewHTTPClient(config Config, logger *slog.Logger) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.With("component", "llm"),
	}
}

const structuredTemperature = 0.2

const strictRetryInstruction = "\n\nIMPORTANT: Your previous response was not valid JSON. " +
	"Respond with ONLY the JSON document. No prose, no markdown fences, no explanations."

// GenerateStructured asks for JSON matching the schema and decodes it into
// out. A decode failure triggers exactly one retry with a stricter
// instruction before giving up.
func (c *HTTPClient) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, schema Schema, out any) error {
	augmented := fmt.Sprintf(
		"%s\n\nCRITICAL: You must respond in ONLY valid JSON format matching the following JSON Schema. "+
			"Do not include markdown code blocks (```json) or any conversational text around the JSON.\n\nEXPECTED SCHEMA:\n%s",
		systemPrompt, schema.JSON)

	text, err := c.complete(ctx, augmented, userPrompt, structuredTemperature)
	if err != nil {
		return err
	}
	firstErr := DecodeStructured(text, out)
	if firstErr == nil {
		return nil
	}

	c.logger.Warn("structured output decode failed, retrying with stricter instruction",
		"schema", schema.Name, "error", firstErr)

	text, err = c.complete(ctx, augmented+strictRetryInstruction, userPrompt, structuredTemperature)
	if err != nil {
		return err
	}
	if err := DecodeStructured(text, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutputInvalid, schema.Name, err)
	}
	return nil
}

// GenerateText returns the raw completion for a prompt pair.
func (c *HTTPClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, temperature)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *HTTPClient) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.logger.Info("issuing request to model", "model", c.config.Model)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call llm provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm provider returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no output", c.config.Model)
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
