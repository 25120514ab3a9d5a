package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/newsagent/internal/config"
)

const ollamaDefaultURL = "http://localhost:11434"

// OllamaEmbedding calls a local Ollama server.
type OllamaEmbedding struct {
	client     *resty.Client
	baseURL    string
	model      string
	dimensions int
}

func NewOllamaEmbedding(cfg *config.EmbeddingConfig) *OllamaEmbedding {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ollamaDefaultURL
	}
	return &OllamaEmbedding{
		client:     newEmbeddingClient(""),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (s *OllamaEmbedding) GetModel() string { return s.model }
func (s *OllamaEmbedding) Dimensions() int  { return s.dimensions }

func (s *OllamaEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.Embed(ctx, query)
}

func (s *OllamaEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := requireText(text); err != nil {
		return nil, err
	}

	var resp ollamaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(ollamaRequest{Model: s.model, Prompt: text}).
		SetResult(&resp).
		SetError(&resp).
		Post(s.baseURL + "/api/embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to call ollama: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		if resp.Error != "" {
			return nil, fmt.Errorf("ollama error (status %d): %s", httpResp.StatusCode(), resp.Error)
		}
		return nil, fmt.Errorf("ollama error: status %d", httpResp.StatusCode())
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return checkDimensions(vec, s.dimensions)
}
