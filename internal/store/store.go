package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/facegrid/internal/types"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// ErrIdentityNotFound is returned when a rename or lookup targets a name with no records.
var ErrIdentityNotFound = errors.New("identity not found")

// Store persists (name, embedding) records in PostgreSQL or SQLite.
type Store struct {
	conn    *sql.DB
	dialect string
}

// IdentitySummary is one row of the identity listing.
type IdentitySummary struct {
	ID        int64
	Name      string
	Count     int
	CreatedAt time.Time
}

// Dialect reports which backend a DSN selects. postgres:// and postgresql:// URLs go to
// pgx, anything else is treated as a SQLite file path.
func Dialect(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return dialectPostgres
	}
	return dialectSQLite
}

// New opens the database behind dsn and ensures the schema exists.
// Failures wrap types.ErrStoreUnavailable.
func New(ctx context.Context, dsn string) (*Store, error) {
	dialect := Dialect(dsn)

	driver := "pgx"
	if dialect == dialectSQLite {
		driver = "sqlite"
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", types.ErrStoreUnavailable, err)
	}
	if dialect == dialectSQLite {
		// SQLite serialises writers; one connection avoids "database is locked".
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", types.ErrStoreUnavailable, err)
	}

	s := &Store{conn: conn, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to initialize database schema: %v", types.ErrStoreUnavailable, err)
	}
	return s, nil
}

// initSchema creates the identities table if it doesn't exist (Auto-Migration).
func (s *Store) initSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS identities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS identities_name_idx ON identities (name);
	`
	if s.dialect == dialectPostgres {
		query = `
			CREATE TABLE IF NOT EXISTS identities (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				embedding BYTEA NOT NULL,
				created_at BIGINT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS identities_name_idx ON identities (name);
		`
	}
	_, err := s.conn.ExecContext(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Append stores one embedding under name.
func (s *Store) Append(ctx context.Context, name string, embedding []float64) error {
	if name == "" {
		return errors.New("identity name must not be empty")
	}
	_, err := s.conn.ExecContext(ctx,
		s.rebind("INSERT INTO identities (name, embedding, created_at) VALUES (?, ?, ?)"),
		name, EncodeEmbedding(embedding), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

// LoadAll returns every record in insertion order. A blob that does not decode yields a
// record with a nil embedding, left for the matcher to reject.
func (s *Store) LoadAll(ctx context.Context) ([]types.IdentityRecord, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT name, embedding FROM identities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []types.IdentityRecord
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
		}
		vec, _ := DecodeEmbedding(blob)
		records = append(records, types.IdentityRecord{Name: name, Embedding: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return records, nil
}

// ListIdentities groups records by name, ordered by first registration.
func (s *Store) ListIdentities(ctx context.Context) ([]IdentitySummary, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT MIN(id), name, COUNT(*), MIN(created_at)
		FROM identities
		GROUP BY name
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdentitySummary
	for rows.Next() {
		var sum IdentitySummary
		var created int64
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Count, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.Unix(created, 0)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// RenameIdentity moves every record of oldName to newName.
func (s *Store) RenameIdentity(ctx context.Context, oldName, newName string) (int64, error) {
	if newName == "" {
		return 0, errors.New("identity name must not be empty")
	}
	res, err := s.conn.ExecContext(ctx, s.rebind("UPDATE identities SET name = ? WHERE name = ?"), newName, oldName)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrIdentityNotFound, oldName)
	}
	return n, nil
}

// Reset drops the identities table. The next New recreates it.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS identities")
	return err
}

// EncodeEmbedding packs a vector as little-endian float64s.
func EncodeEmbedding(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding.
func DecodeEmbedding(blob []byte) ([]float64, error) {
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("%w: blob length %d is not a multiple of 8", types.ErrInvalidEmbedding, len(blob))
	}
	vec := make([]float64, len(blob)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vec, nil
}
