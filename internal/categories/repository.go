package categories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/moneyledger/internal/ledger"
)

// ErrDuplicateName reports a second category with the same name in a scope.
var ErrDuplicateName = errors.New("category name already used")

// Repository persists categories.
type Repository interface {
	Create(ctx context.Context, category ledger.Category) error
	Get(ctx context.Context, id string) (ledger.Category, error)
	List(ctx context.Context, scope ledger.OwnerScope) ([]ledger.Category, error)
}

// PostgresRepository stores categories in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a category record.
func (r *PostgresRepository) Create(ctx context.Context, c ledger.Category) error {
	_, err := r.db.Exec(ctx, `INSERT INTO categories (id, scope_kind, scope_id, name, created_at)
        VALUES ($1, $2, $3, $4, $5)`, c.ID, string(c.Scope.Kind), c.Scope.ID, c.Name, c.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	if err != nil {
		return &ledger.StorageError{Op: "insert category", Err: err}
	}
	return nil
}

// Get fetches a category by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (ledger.Category, error) {
	row := r.db.QueryRow(ctx, `SELECT id, scope_kind, scope_id, name, created_at
        FROM categories WHERE id = $1`, id)
	c, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Category{}, &ledger.NotFoundError{Resource: "category", ID: id}
	}
	if err != nil {
		return ledger.Category{}, &ledger.StorageError{Op: "get category", Err: err}
	}
	return c, nil
}

// List returns the categories of scope ordered by name.
func (r *PostgresRepository) List(ctx context.Context, scope ledger.OwnerScope) ([]ledger.Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, scope_kind, scope_id, name, created_at
        FROM categories WHERE scope_kind = $1 AND scope_id = $2 ORDER BY name, id`, string(scope.Kind), scope.ID)
	if err != nil {
		return nil, &ledger.StorageError{Op: "list categories", Err: err}
	}
	defer rows.Close()

	out := []ledger.Category{}
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, &ledger.StorageError{Op: "list categories", Err: err}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledger.StorageError{Op: "list categories", Err: err}
	}
	return out, nil
}

func scan(row pgx.Row) (ledger.Category, error) {
	var c ledger.Category
	var kind string
	if err := row.Scan(&c.ID, &kind, &c.Scope.ID, &c.Name, &c.CreatedAt); err != nil {
		return ledger.Category{}, err
	}
	c.Scope.Kind = ledger.ScopeKind(kind)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}
