package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/newsagent/internal/config"
)

const (
	jinaEndpoint         = "https://api.jina.ai/v1/embeddings"
	embeddingHTTPTimeout = 30 * time.Second
	embeddingRetryCount  = 2
	embeddingRetryWait   = 500 * time.Millisecond
)

// ErrEmptyText is returned by providers asked to embed blank text.
var ErrEmptyText = errors.New("text is empty")

// EmbeddingProvider maps text to a fixed-length vector. Implementations are
// deterministic for identical input under one configuration.
type EmbeddingProvider interface {
	// Embed embeds a document.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedQuery embeds a search query; providers without a query mode
	// behave like Embed.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimensions() int
	GetModel() string
}

// NewEmbeddingProvider builds the provider selected by cfg.Provider.
func NewEmbeddingProvider(cfg *config.EmbeddingConfig) (EmbeddingProvider, error) {
	switch cfg.Provider {
	case "hash":
		return NewHashEmbedding(cfg.Model, cfg.Dimensions), nil
	case "jina":
		return NewJinaEmbedding(cfg), nil
	case "openai-compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("embedding %q: base_url is required for openai-compatible", cfg.Name)
		}
		return NewOpenAIEmbedding(cfg), nil
	case "ollama":
		return NewOllamaEmbedding(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func newEmbeddingClient(apiKey string) *resty.Client {
	client := resty.New().
		SetTimeout(embeddingHTTPTimeout).
		SetRetryCount(embeddingRetryCount).
		SetRetryWaitTime(embeddingRetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return client
}

func requireText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

func checkDimensions(vec []float32, want int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	if want > 0 && len(vec) != want {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), want)
	}
	return vec, nil
}

// JinaEmbedding calls the Jina embeddings API.
type JinaEmbedding struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
}

func NewJinaEmbedding(cfg *config.EmbeddingConfig) *JinaEmbedding {
	endpoint := jinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings"
	}
	return &JinaEmbedding{
		client:     newEmbeddingClient(cfg.APIKey),
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

func (s *JinaEmbedding) GetModel() string { return s.model }
func (s *JinaEmbedding) Dimensions() int  { return s.dimensions }

func (s *JinaEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text, "retrieval.passage")
}

func (s *JinaEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.embed(ctx, query, "retrieval.query")
}

func (s *JinaEmbedding) embed(ctx context.Context, text, task string) ([]float32, error) {
	if err := requireText(text); err != nil {
		return nil, err
	}

	var resp jinaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(jinaRequest{
			Model:         s.model,
			Task:          task,
			Dimensions:    s.dimensions,
			Input:         []string{text},
			EmbeddingType: "float",
		}).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		if resp.Detail != "" {
			return nil, fmt.Errorf("jina API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("jina API error: status %d", httpResp.StatusCode())
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return checkDimensions(resp.Data[0].Embedding, s.dimensions)
}
