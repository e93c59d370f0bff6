package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists accounts, movements and transfers in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   dbtx
	inTx bool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

// WithinTx runs fn inside a single database transaction. Nested calls reuse
// the outer transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&PostgresStore{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const accountColumns = `id, scope_kind, scope_id, name, currency, opening_balance, current_balance, archived, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct Account
		kind string
	)
	err := row.Scan(&acct.ID, &kind, &acct.Scope.ID, &acct.Name, &acct.Currency,
		&acct.OpeningBalance, &acct.CurrentBalance, &acct.Archived, &acct.CreatedAt, &acct.UpdatedAt)
	acct.Scope.Kind = ScopeKind(kind)
	return acct, err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10)`
	_, err := s.db.Exec(ctx, query, account.ID, string(account.Scope.Kind), account.Scope.ID, account.Name,
		account.Currency, account.OpeningBalance.String(), account.CurrentBalance.String(), account.Archived,
		account.CreatedAt, account.UpdatedAt)
	if isUniqueViolation(err) {
		return &ValidationError{Field: "id", Message: "account " + account.ID + " already exists"}
	}
	return storageErr("create account", err)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	acct, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, notFound("account", id)
	}
	if err != nil {
		return Account{}, storageErr("get account", err)
	}
	return acct, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, scope OwnerScope) ([]Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts
        WHERE scope_kind = $1 AND scope_id = $2
        ORDER BY created_at, id`
	rows, err := s.db.Query(ctx, query, string(scope.Kind), scope.ID)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, storageErr("list accounts", err)
		}
		out = append(out, acct)
	}
	return out, storageErr("list accounts", rows.Err())
}

func (s *PostgresStore) ListScopes(ctx context.Context) ([]OwnerScope, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT scope_kind, scope_id FROM accounts ORDER BY scope_kind, scope_id`)
	if err != nil {
		return nil, storageErr("list scopes", err)
	}
	defer rows.Close()

	var out []OwnerScope
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, storageErr("list scopes", err)
		}
		out = append(out, OwnerScope{Kind: ScopeKind(kind), ID: id})
	}
	return out, storageErr("list scopes", rows.Err())
}

func (s *PostgresStore) AddToBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	const query = `UPDATE accounts
        SET current_balance = current_balance + $2::numeric, updated_at = now()
        WHERE id = $1
        RETURNING current_balance`
	var balance decimal.Decimal
	err := s.db.QueryRow(ctx, query, accountID, delta.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, notFound("account", accountID)
	}
	if err != nil {
		return decimal.Zero, storageErr("apply delta", err)
	}
	return balance, nil
}

func (s *PostgresStore) SetCurrentBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET current_balance = $2::numeric, updated_at = now() WHERE id = $1`,
		accountID, balance.String())
	if err != nil {
		return storageErr("set balance", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("account", accountID)
	}
	return nil
}

func (s *PostgresStore) SetArchived(ctx context.Context, accountID string, archived bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE accounts SET archived = $2, updated_at = now() WHERE id = $1`, accountID, archived)
	if err != nil {
		return storageErr("archive account", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("account", accountID)
	}
	return nil
}

func (s *PostgresStore) LockAccounts(ctx context.Context, ids ...string) error {
	if !s.inTx || len(ids) == 0 {
		return nil
	}
	rows, err := s.db.Query(ctx, `SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return storageErr("lock accounts", err)
	}
	rows.Close()
	return storageErr("lock accounts", rows.Err())
}

const transactionColumns = `id, scope_kind, scope_id, account_id, type, amount, date, created_at, updated_at,
        balance_after, is_deleted, deleted_at, COALESCE(category_id, ''), COALESCE(client_request_id, ''),
        COALESCE(transfer_id, ''), COALESCE(direction, ''), description`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		tx                   Transaction
		kind, typ, direction string
		deletedAt            *time.Time
	)
	err := row.Scan(&tx.ID, &kind, &tx.Scope.ID, &tx.AccountID, &typ, &tx.Amount, &tx.Date, &tx.CreatedAt,
		&tx.UpdatedAt, &tx.BalanceAfter, &tx.IsDeleted, &deletedAt, &tx.CategoryID, &tx.ClientRequestID,
		&tx.TransferID, &direction, &tx.Description)
	tx.Scope.Kind = ScopeKind(kind)
	tx.Type = Type(typ)
	tx.Direction = TransferDirection(direction)
	tx.DeletedAt = deletedAt
	return tx, err
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, tx Transaction) error {
	const query = `INSERT INTO transactions (id, scope_kind, scope_id, account_id, type, amount, date, created_at,
            updated_at, balance_after, is_deleted, deleted_at, category_id, client_request_id, transfer_id, direction,
            description)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10::numeric, $11, $12, NULLIF($13, ''), NULLIF($14, ''),
            NULLIF($15, ''), NULLIF($16, ''), $17)`
	_, err := s.db.Exec(ctx, query, tx.ID, string(tx.Scope.Kind), tx.Scope.ID, tx.AccountID, string(tx.Type),
		tx.Amount.String(), tx.Date, tx.CreatedAt, tx.UpdatedAt, tx.BalanceAfter.String(), tx.IsDeleted, tx.DeletedAt,
		tx.CategoryID, tx.ClientRequestID, tx.TransferID, string(tx.Direction), tx.Description)
	if isUniqueViolation(err) {
		return ErrDuplicateRequest
	}
	return storageErr("insert transaction", err)
}

func (s *PostgresStore) SaveTransaction(ctx context.Context, tx Transaction) error {
	const query = `UPDATE transactions SET account_id = $2, type = $3, amount = $4::numeric, date = $5,
            updated_at = $6, balance_after = $7::numeric, is_deleted = $8, deleted_at = $9,
            category_id = NULLIF($10, ''), transfer_id = NULLIF($11, ''), direction = NULLIF($12, ''), description = $13
        WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, tx.ID, tx.AccountID, string(tx.Type), tx.Amount.String(), tx.Date, tx.UpdatedAt,
		tx.BalanceAfter.String(), tx.IsDeleted, tx.DeletedAt, tx.CategoryID, tx.TransferID, string(tx.Direction),
		tx.Description)
	if err != nil {
		return storageErr("save transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("transaction", tx.ID)
	}
	return nil
}

func (s *PostgresStore) RemoveTransaction(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return storageErr("remove transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("transaction", id)
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, notFound("transaction", id)
	}
	if err != nil {
		return Transaction{}, storageErr("get transaction", err)
	}
	return tx, nil
}

func (s *PostgresStore) FindTransactionByRequestID(ctx context.Context, scope OwnerScope, requestID string) (Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
        WHERE scope_kind = $1 AND scope_id = $2 AND client_request_id = $3`
	tx, err := scanTransaction(s.db.QueryRow(ctx, query, string(scope.Kind), scope.ID, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, notFound("transaction request", requestID)
	}
	if err != nil {
		return Transaction{}, storageErr("find transaction", err)
	}
	return tx, nil
}

func (s *PostgresStore) queryTransactions(ctx context.Context, op, query string, args ...any) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, tx)
	}
	return out, storageErr(op, rows.Err())
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string, filter PageFilter) ([]Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
        WHERE account_id = $1 AND ($2 OR NOT is_deleted)
        ORDER BY date DESC, created_at DESC, id DESC
        LIMIT NULLIF($3::int, 0) OFFSET $4`
	return s.queryTransactions(ctx, "list transactions", query, accountID, filter.IncludeDeleted, filter.Limit, filter.Offset)
}

func (s *PostgresStore) NetEffectOfNewest(ctx context.Context, accountID string, n int) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
        FROM (
            SELECT type, amount FROM transactions
            WHERE account_id = $1 AND NOT is_deleted
            ORDER BY date DESC, created_at DESC, id DESC
            LIMIT $2
        ) newest`
	var total decimal.Decimal
	if err := s.db.QueryRow(ctx, query, accountID, n).Scan(&total); err != nil {
		return decimal.Zero, storageErr("net effect", err)
	}
	return total, nil
}

func (s *PostgresStore) ReplayTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions
        WHERE account_id = $1 AND NOT is_deleted
        ORDER BY date, created_at, id`
	return s.queryTransactions(ctx, "replay transactions", query, accountID)
}

func (s *PostgresStore) SetBalancesAfter(ctx context.Context, updates []BalanceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	balances := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.TransactionID
		balances[i] = u.BalanceAfter.String()
	}
	const query = `UPDATE transactions t
        SET balance_after = u.balance_after::numeric
        FROM unnest($1::text[], $2::text[]) AS u(id, balance_after)
        WHERE t.id = u.id`
	tag, err := s.db.Exec(ctx, query, ids, balances)
	if err != nil {
		return storageErr("set balances", err)
	}
	if int(tag.RowsAffected()) != len(updates) {
		return storageErr("set balances", fmt.Errorf("updated %d of %d movements", tag.RowsAffected(), len(updates)))
	}
	return nil
}

const transferColumns = `id, scope_kind, scope_id, from_account_id, to_account_id, amount, date,
        debit_transaction_id, credit_transaction_id, COALESCE(client_request_id, ''), created_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		t    Transfer
		kind string
	)
	err := row.Scan(&t.ID, &kind, &t.Scope.ID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Date,
		&t.DebitTransactionID, &t.CreditTransactionID, &t.ClientRequestID, &t.CreatedAt)
	t.Scope.Kind = ScopeKind(kind)
	return t, err
}

func (s *PostgresStore) InsertTransfer(ctx context.Context, transfer Transfer) error {
	const query = `INSERT INTO transfers (id, scope_kind, scope_id, from_account_id, to_account_id, amount, date,
            debit_transaction_id, credit_transaction_id, client_request_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, NULLIF($10, ''), $11)`
	_, err := s.db.Exec(ctx, query, transfer.ID, string(transfer.Scope.Kind), transfer.Scope.ID, transfer.FromAccountID,
		transfer.ToAccountID, transfer.Amount.String(), transfer.Date, transfer.DebitTransactionID,
		transfer.CreditTransactionID, transfer.ClientRequestID, transfer.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateRequest
	}
	return storageErr("insert transfer", err)
}

func (s *PostgresStore) SaveTransfer(ctx context.Context, transfer Transfer) error {
	const query = `UPDATE transfers SET from_account_id = $2, to_account_id = $3, amount = $4::numeric, date = $5
        WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, transfer.ID, transfer.FromAccountID, transfer.ToAccountID,
		transfer.Amount.String(), transfer.Date)
	if err != nil {
		return storageErr("save transfer", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("transfer", transfer.ID)
	}
	return nil
}

func (s *PostgresStore) RemoveTransfer(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM transfers WHERE id = $1`, id)
	if err != nil {
		return storageErr("remove transfer", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("transfer", id)
	}
	return nil
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id string) (Transfer, error) {
	t, err := scanTransfer(s.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, notFound("transfer", id)
	}
	if err != nil {
		return Transfer{}, storageErr("get transfer", err)
	}
	return t, nil
}

func (s *PostgresStore) FindTransferByRequestID(ctx context.Context, scope OwnerScope, requestID string) (Transfer, error) {
	const query = `SELECT ` + transferColumns + ` FROM transfers
        WHERE scope_kind = $1 AND scope_id = $2 AND client_request_id = $3`
	t, err := scanTransfer(s.db.QueryRow(ctx, query, string(scope.Kind), scope.ID, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, notFound("transfer request", requestID)
	}
	if err != nil {
		return Transfer{}, storageErr("find transfer", err)
	}
	return t, nil
}
