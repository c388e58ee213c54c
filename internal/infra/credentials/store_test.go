package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token   string
	err     error
	queried int
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried++
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " sk-test "})
	key, err := store.Token(context.Background(), ProviderOpenAI)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "sk-test" {
		t.Fatalf("expected sk-test, got %q", key)
	}
}

func TestTokenNoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderGemini)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestTokenWithoutDatabase(t *testing.T) {
	store := NewStore(nil)
	key, err := store.Token(context.Background(), ProviderOpenAI)
	if err != nil || key != "" {
		t.Fatalf("Token() = %q, %v; want empty, nil", key, err)
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), " OpenAI ", "secret"); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderOpenAI {
		t.Fatalf("expected provider argument, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenRejectsInput(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderGemini, " "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.SetToken(context.Background(), "qwen", "secret"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestResolvePrefersExplicitKey(t *testing.T) {
	exec := &stubExecutor{token: "stored"}
	store := NewStore(exec)
	key, err := store.Resolve(context.Background(), ProviderOpenAI, " env-key ")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "env-key" || exec.queried != 0 {
		t.Fatalf("Resolve() = %q after %d queries, want env-key without querying", key, exec.queried)
	}
	key, err = store.Resolve(context.Background(), ProviderOpenAI, "")
	if err != nil || key != "stored" {
		t.Fatalf("Resolve() = %q, %v; want stored", key, err)
	}
}
