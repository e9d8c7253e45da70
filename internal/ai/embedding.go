package ai

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"ai-gamer/server/internal/config"
	"ai-gamer/server/internal/interfaces"
)

// EmbeddingService produces vectors for semantic memory search.
type EmbeddingService struct {
	client *openai.Client
	model  string
}

func NewEmbeddingService(cfg config.EmbeddingConfig, baseURL string) *EmbeddingService {
	if cfg.APIKey == "" {
		return &EmbeddingService{model: cfg.Model}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	return &EmbeddingService{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// Embed returns the embedding vector for a single text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.client == nil {
		return nil, interfaces.ErrNotConfigured
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
