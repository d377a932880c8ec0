package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres reads principals from a table with the columns
// id, email, role, is_active. The pool is owned by the caller.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures a [Postgres] directory.
type PostgresOption func(*Postgres) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithTable sets the schema-qualified table (default public.principals).
func WithTable(schema, table string) PostgresOption {
	return func(p *Postgres) error {
		schema, table = strings.TrimSpace(schema), strings.TrimSpace(table)
		if !pgIdentRe.MatchString(schema) || !pgIdentRe.MatchString(table) {
			return fmt.Errorf("directory: invalid table identifier")
		}
		p.table = pgx.Identifier{schema, table}.Sanitize()
		return nil
	}
}

// NewPostgres creates a [Postgres] directory.
func NewPostgres(pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		pool:  pool,
		table: pgx.Identifier{"public", "principals"}.Sanitize(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.pool == nil {
		return nil, fmt.Errorf("directory: nil pool")
	}
	return p, nil
}

// FindByEmail looks a principal up by case-insensitive email.
func (p *Postgres) FindByEmail(ctx context.Context, email string) (Principal, error) {
	q := `SELECT id, email, role, is_active FROM ` + p.table + ` WHERE lower(email) = $1 LIMIT 1`
	return p.queryOne(ctx, q, NormalizeEmail(email))
}

// FindByID looks a principal up by id.
func (p *Postgres) FindByID(ctx context.Context, id string) (Principal, error) {
	q := `SELECT id, email, role, is_active FROM ` + p.table + ` WHERE id = $1`
	return p.queryOne(ctx, q, id)
}

func (p *Postgres) queryOne(ctx context.Context, q string, arg string) (Principal, error) {
	var out Principal
	err := p.pool.QueryRow(ctx, q, arg).Scan(&out.ID, &out.Email, &out.Role, &out.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
