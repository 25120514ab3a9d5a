package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/newsagent/internal/config"
)

// OpenAIEmbedding calls any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedding struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
}

func NewOpenAIEmbedding(cfg *config.EmbeddingConfig) *OpenAIEmbedding {
	return &OpenAIEmbedding{
		client:     newEmbeddingClient(cfg.APIKey),
		endpoint:   strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings",
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

type openAIEmbeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *OpenAIEmbedding) GetModel() string { return s.model }
func (s *OpenAIEmbedding) Dimensions() int  { return s.dimensions }

func (s *OpenAIEmbedding) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.Embed(ctx, query)
}

func (s *OpenAIEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := requireText(text); err != nil {
		return nil, err
	}

	var resp openAIEmbeddingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(openAIEmbeddingRequest{
			Model:          s.model,
			Input:          []string{text},
			Dimensions:     s.dimensions,
			EncodingFormat: "float",
		}).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		if resp.Error != nil && resp.Error.Message != "" {
			return nil, fmt.Errorf("embedding API error: %s", resp.Error.Message)
		}
		return nil, fmt.Errorf("embedding API error: status %d", httpResp.StatusCode())
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return checkDimensions(resp.Data[0].Embedding, s.dimensions)
}
