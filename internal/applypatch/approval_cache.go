package applypatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "modernc.org/sqlite"
)

// ApprovalCache persists {patch,cwd} approval decisions across turns (and
// process restarts) so the same patch applied again to the same working
// directory doesn't re-prompt. Entries are signed with HS256 so a cache
// file copied to a different signing key (a different installation) can
// never be replayed as a forged approval.
//
// Grounded on jobs.CockroachStore's sql.Open + schema-migration idiom,
// adapted from Postgres to modernc.org/sqlite (pure-Go, no cgo) since this
// cache is a small local file, not a shared service database.
type ApprovalCache struct {
	db         *sql.DB
	signingKey []byte
}

type approvalClaims struct {
	Key      string `json:"key"`
	Approved bool   `json:"approved"`
	jwt.RegisteredClaims
}

// NewApprovalCache opens (creating if needed) the sqlite-backed approval
// cache at path, signing entries with signingKey.
func NewApprovalCache(path string, signingKey []byte) (*ApprovalCache, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("apply_patch: approval cache signing key must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open approval cache: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: avoid writer-lock contention across goroutines

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS apply_patch_approvals (
			cache_key  TEXT PRIMARY KEY,
			token      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate approval cache: %w", err)
	}

	return &ApprovalCache{db: db, signingKey: signingKey}, nil
}

// Close releases the underlying database handle.
func (c *ApprovalCache) Close() error {
	return c.db.Close()
}

// Remember signs and stores an approval decision for key.
func (c *ApprovalCache) Remember(ctx context.Context, key string, approved bool) error {
	claims := approvalClaims{
		Key:      key,
		Approved: approved,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return fmt.Errorf("sign approval entry: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO apply_patch_approvals (cache_key, token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at
	`, key, signed, time.Now().Unix())
	return err
}

// Lookup returns the previously remembered approval decision for key, if
// any, verifying the signature (and that the embedded key matches) before
// trusting it.
func (c *ApprovalCache) Lookup(ctx context.Context, key string) (approved bool, found bool) {
	var signed string
	err := c.db.QueryRowContext(ctx, `SELECT token FROM apply_patch_approvals WHERE cache_key = ?`, key).Scan(&signed)
	if err != nil {
		return false, false
	}

	claims := &approvalClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return c.signingKey, nil
	})
	if err != nil || !parsed.Valid || claims.Key != key {
		return false, false
	}
	return claims.Approved, true
}
