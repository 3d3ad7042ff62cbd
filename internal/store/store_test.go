package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/facegrid/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestEmbeddingCodec(t *testing.T) {
	vec := []float64{0.25, -1.5, math.Pi, 0}
	got, err := DecodeEmbedding(EncodeEmbedding(vec))
	if err != nil {
		t.Fatalf("DecodeEmbedding failed: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("Expected %d values, got %d", len(vec), len(got))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("value %d: expected %v, got %v", i, vec[i], got[i])
		}
	}

	if _, err := DecodeEmbedding([]byte{1, 2, 3}); !errors.Is(err, types.ErrInvalidEmbedding) {
		t.Errorf("Expected ErrInvalidEmbedding for truncated blob, got %v", err)
	}
}

func TestDialect(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user:pw@localhost:5432/facegrid", dialectPostgres},
		{"postgresql://localhost/facegrid", dialectPostgres},
		{"faces.db", dialectSQLite},
		{"file:faces.db?_pragma=busy_timeout(5000)", dialectSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			if got := Dialect(tt.dsn); got != tt.want {
				t.Errorf("Dialect(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: dialectPostgres}
	if got := pg.rebind("UPDATE t SET a = ? WHERE b = ?"); got != "UPDATE t SET a = $1 WHERE b = $2" {
		t.Errorf("unexpected postgres rebind: %s", got)
	}
	lite := &Store{dialect: dialectSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite query should be untouched, got %s", got)
	}
}

func TestStoreSQLite(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, filepath.Join(t.TempDir(), "faces.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	defer s.Close()

	exerciseStore(t, ctx, s)
}

// TestStoreIntegration runs the same scenarios against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("facegrid_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	exerciseStore(t, ctx, s)
}

func exerciseStore(t *testing.T, ctx context.Context, s *Store) {
	t.Helper()

	vecA := []float64{1, 0, 0}
	vecB := []float64{0, 1, 0}

	if err := s.Append(ctx, "alice", vecA); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, "bob", vecB); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, "alice", vecB); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, "", vecA); err == nil {
		t.Error("Expected error for empty name")
	}

	records, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	// Insertion order is preserved; the matcher's tie-break depends on it.
	wantNames := []string{"alice", "bob", "alice"}
	for i, r := range records {
		if r.Name != wantNames[i] {
			t.Errorf("record %d: expected %s, got %s", i, wantNames[i], r.Name)
		}
	}
	if records[1].Embedding[1] != 1 {
		t.Errorf("Expected bob's embedding to round-trip, got %v", records[1].Embedding)
	}

	identities, err := s.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("ListIdentities failed: %v", err)
	}
	if len(identities) != 2 {
		t.Fatalf("Expected 2 identities, got %d", len(identities))
	}
	if identities[0].Name != "alice" || identities[0].Count != 2 {
		t.Errorf("Expected alice with 2 records first, got %+v", identities[0])
	}

	n, err := s.RenameIdentity(ctx, "alice", "carol")
	if err != nil {
		t.Fatalf("RenameIdentity failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 renamed records, got %d", n)
	}
	if _, err := s.RenameIdentity(ctx, "nobody", "x"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound, got %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.LoadAll(ctx); !errors.Is(err, types.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable after table drop, got %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
