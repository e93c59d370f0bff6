package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScopeKind distinguishes personal from organization ownership.
type ScopeKind string

const (
	ScopePersonal     ScopeKind = "personal"
	ScopeOrganization ScopeKind = "organization"
)

// OwnerScope identifies who may see and mutate an account: a single admin
// (personal) or an organization.
type OwnerScope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// Personal builds a scope owned by a single admin.
func Personal(adminID string) OwnerScope {
	return OwnerScope{Kind: ScopePersonal, ID: adminID}
}

// Organization builds a scope owned by an organization.
func Organization(orgID string) OwnerScope {
	return OwnerScope{Kind: ScopeOrganization, ID: orgID}
}

// Validate reports whether the scope is usable.
func (s OwnerScope) Validate() error {
	switch s.Kind {
	case ScopePersonal, ScopeOrganization:
	default:
		return &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope kind %q", s.Kind)}
	}
	if strings.TrimSpace(s.ID) == "" {
		return &ValidationError{Field: "scope", Message: "scope id is required"}
	}
	return nil
}

// String renders the scope as "kind:id", used in cache and lock keys.
func (s OwnerScope) String() string {
	return string(s.Kind) + ":" + s.ID
}

// Type is the kind of movement.
type Type string

const (
	Debit  Type = "debit"
	Credit Type = "credit"
)

// ParseType validates a movement type.
func ParseType(v string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(v))); t {
	case Debit, Credit:
		return t, nil
	default:
		return "", &ValidationError{Field: "type", Message: fmt.Sprintf("must be debit or credit, got %q", v)}
	}
}

// Effect returns the signed contribution of amount to a balance.
func (t Type) Effect(amount decimal.Decimal) decimal.Decimal {
	if t == Credit {
		return amount
	}
	return amount.Neg()
}

// DeltaDirection says whether a movement's effect is applied or undone.
type DeltaDirection int

const (
	Apply DeltaDirection = iota
	Revert
)

// TransferDirection tags a transfer leg.
type TransferDirection string

const (
	Outgoing TransferDirection = "outgoing"
	Incoming TransferDirection = "incoming"
)

// Account holds an account's opening and current balance.
type Account struct {
	ID             string          `json:"id"`
	Scope          OwnerScope      `json:"scope"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Archived       bool            `json:"archived"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Transaction is a single ledger movement.
type Transaction struct {
	ID              string            `json:"id"`
	Scope           OwnerScope        `json:"scope"`
	AccountID       string            `json:"account_id"`
	Type            Type              `json:"type"`
	Amount          decimal.Decimal   `json:"amount"`
	Date            time.Time         `json:"date"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	BalanceAfter    decimal.Decimal   `json:"balance_after"`
	IsDeleted       bool              `json:"is_deleted"`
	DeletedAt       *time.Time        `json:"deleted_at,omitempty"`
	CategoryID      string            `json:"category_id,omitempty"`
	ClientRequestID string            `json:"client_request_id,omitempty"`
	TransferID      string            `json:"transfer_id,omitempty"`
	Direction       TransferDirection `json:"direction,omitempty"`
	Description     string            `json:"description,omitempty"`
}

// Effect is the signed contribution of the movement to its account balance.
func (t Transaction) Effect() decimal.Decimal {
	return t.Type.Effect(t.Amount)
}

// IsTransferLeg reports whether the movement belongs to a transfer.
func (t Transaction) IsTransferLeg() bool {
	return t.TransferID != ""
}

// Before orders movements chronologically by (date, created_at, id).
func (t Transaction) Before(o Transaction) bool {
	if !t.Date.Equal(o.Date) {
		return t.Date.Before(o.Date)
	}
	if !t.CreatedAt.Equal(o.CreatedAt) {
		return t.CreatedAt.Before(o.CreatedAt)
	}
	return t.ID < o.ID
}

// Transfer links a debit leg and a credit leg.
type Transfer struct {
	ID                  string          `json:"id"`
	Scope               OwnerScope      `json:"scope"`
	FromAccountID       string          `json:"from_account_id"`
	ToAccountID         string          `json:"to_account_id"`
	Amount              decimal.Decimal `json:"amount"`
	Date                time.Time       `json:"date"`
	DebitTransactionID  string          `json:"debit_transaction_id"`
	CreditTransactionID string          `json:"credit_transaction_id"`
	ClientRequestID     string          `json:"client_request_id,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// LegID returns the id of the leg tagged with the given direction.
func (t Transfer) LegID(d TransferDirection) string {
	if d == Outgoing {
		return t.DebitTransactionID
	}
	return t.CreditTransactionID
}

// Category is an opaque classification reference.
type Category struct {
	ID        string     `json:"id"`
	Scope     OwnerScope `json:"scope"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
}

// BalanceUpdate rewrites a stored balance_after snapshot.
type BalanceUpdate struct {
	TransactionID string
	BalanceAfter  decimal.Decimal
}

// PageFilter selects a newest-first page of an account's movements.
type PageFilter struct {
	Limit          int
	Offset         int
	IncludeDeleted bool
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate reads a business date. A blank value means now.
func ParseDate(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return now, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "date", Message: fmt.Sprintf("unparseable date %q", v)}
}

const (
	// AmountScale is the number of decimal places amounts are stored with.
	AmountScale = 4
	// amountIntegerDigits bounds the integer part to fit NUMERIC(20, 4).
	amountIntegerDigits = 16

	// TransferLegTokenPrefix marks request tokens generated for transfer legs.
	// Callers may not use it for their own movements.
	TransferLegTokenPrefix = "transfer:"
)

var maxMagnitude = decimal.New(1, amountIntegerDigits)

// ValidateAmount requires a strictly positive amount that fits the stored
// precision.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	return ValidatePrecision("amount", amount)
}

// ValidatePrecision rejects values that storage would round or overflow.
func ValidatePrecision(field string, v decimal.Decimal) error {
	if !v.Equal(v.Truncate(AmountScale)) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must have at most %d decimal places", AmountScale)}
	}
	if v.Abs().GreaterThanOrEqual(maxMagnitude) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must have at most %d integer digits", amountIntegerDigits)}
	}
	return nil
}

// ValidateRequestToken rejects caller tokens in the namespace reserved for
// transfer legs.
func ValidateRequestToken(token string) error {
	if strings.HasPrefix(token, TransferLegTokenPrefix) {
		return &ValidationError{Field: "client_request_id", Message: fmt.Sprintf("must not start with %q", TransferLegTokenPrefix)}
	}
	return nil
}
