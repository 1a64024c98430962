package zombiezen // Sub-package for the implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	acme "github.com/caasmo/restinpieces-http01"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS certificates (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier        TEXT NOT NULL,
	domains           TEXT NOT NULL,
	certificate_chain TEXT NOT NULL,
	order_url         TEXT NOT NULL DEFAULT '',
	issued_at         TEXT NOT NULL,
	expires_at        TEXT NOT NULL,
	created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_certificates_identifier ON certificates (identifier, issued_at);
`

// ErrNotFound is returned by Latest when a host has no history.
var ErrNotFound = errors.New("db: no certificate found")

// Db implements the acme.Writer interface using zombiezen/sqlite.
type Db struct {
	pool  *sqlitex.Pool
	owned bool
}

// Open creates a single-connection pool on path and ensures the schema.
// The returned Db closes the pool on Close.
func Open(path string) (*Db, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags:    sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenWAL,
		PoolSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("db: failed to open pool %s: %w", path, err)
	}
	d := &Db{pool: pool, owned: true}
	if err := d.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// NewWriter creates a new Db instance satisfying the Writer interface.
// It expects the sqlitex.Pool to be created and managed externally.
func NewWriter(pool *sqlitex.Pool) (*Db, error) {
	if pool == nil {
		panic("zombiezen.NewWriter: received nil pool")
	}
	d := &Db{pool: pool}
	if err := d.migrate(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Db) migrate(ctx context.Context) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("db: failed to create schema: %w", err)
	}
	return nil
}

// Close releases the pool when Open created it.
func (d *Db) Close() error {
	if !d.owned {
		return nil
	}
	return d.pool.Close()
}

// AddCert adds a new certificate record to the 'certificates' table.
func (d *Db) AddCert(cert acme.Cert) error {
	conn, err := d.pool.Take(context.TODO())
	if err != nil {
		return fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO certificates (
			identifier, domains, certificate_chain, order_url, issued_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?);`,
		&sqlitex.ExecOptions{
			Args: []any{
				cert.Identifier,
				cert.Domains,
				cert.CertificateChain,
				cert.OrderURL,
				acme.TimeFormat(cert.IssuedAt),
				acme.TimeFormat(cert.ExpiresAt),
			},
		})
	if err != nil {
		return fmt.Errorf("db: failed to insert certificate for identifier %q: %w", cert.Identifier, err)
	}
	return nil
}

// Latest returns the most recently issued record for identifier.
func (d *Db) Latest(identifier string) (*acme.Cert, error) {
	conn, err := d.pool.Take(context.TODO())
	if err != nil {
		return nil, fmt.Errorf("db: failed to get connection: %w", err)
	}
	defer d.pool.Put(conn)

	var found *acme.Cert
	err = sqlitex.Execute(conn,
		`SELECT id, identifier, domains, certificate_chain, order_url, issued_at, expires_at
		FROM certificates WHERE identifier = ? ORDER BY issued_at DESC, id DESC LIMIT 1;`,
		&sqlitex.ExecOptions{
			Args: []any{identifier},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				issuedAt, err := time.Parse(time.RFC3339, stmt.ColumnText(5))
				if err != nil {
					return err
				}
				expiresAt, err := time.Parse(time.RFC3339, stmt.ColumnText(6))
				if err != nil {
					return err
				}
				found = &acme.Cert{
					ID:               stmt.ColumnInt64(0),
					Identifier:       stmt.ColumnText(1),
					Domains:          stmt.ColumnText(2),
					CertificateChain: stmt.ColumnText(3),
					OrderURL:         stmt.ColumnText(4),
					IssuedAt:         issuedAt,
					ExpiresAt:        expiresAt,
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("db: failed to query certificate for identifier %q: %w", identifier, err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}
