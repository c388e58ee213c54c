package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"visdom/internal/infra"
	"visdom/internal/sqlinline"
)

// Providers whose API keys may be stored in integration_tokens.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Store reads and writes code-generation API keys.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	if s == nil || s.sql == nil {
		return "", nil
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores key for provider, replacing any previous value.
func (s *Store) SetToken(ctx context.Context, provider, key string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unsupported provider %q", provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	raw, err := json.Marshal(map[string]any{"purpose": "codegen"})
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, key, raw)
	return err
}

// Resolve prefers an explicit key and falls back to the stored one.
func (s *Store) Resolve(ctx context.Context, provider, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	return s.Token(ctx, provider)
}
