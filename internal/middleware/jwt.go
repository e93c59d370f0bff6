package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/congo-pay/moneyledger/internal/access"
	"github.com/congo-pay/moneyledger/internal/ledger"
)

const (
	principalKey = "principal"

	ownerHeader        = "X-Owner-ID"
	organizationHeader = "X-Organization-ID"
	roleHeader         = "X-Role"
)

// Claims are the access token claims understood by the ledger. The subject
// is the user; org_id, when present, places the caller in that
// organization's scope instead of their personal one.
type Claims struct {
	OrganizationID string `json:"org_id,omitempty"`
	Role           string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthConfig configures Authenticate.
type AuthConfig struct {
	Secret string
	// DevHeaders lets unauthenticated requests name their scope through
	// X-Owner-ID / X-Organization-ID. Never enable in production.
	DevHeaders bool
}

// Authenticate validates the bearer token and stores the resulting
// principal for downstream handlers.
func Authenticate(cfg AuthConfig) fiber.Handler {
	secret := []byte(cfg.Secret)
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if authz == "" && cfg.DevHeaders {
			p, err := principalFromHeaders(c)
			if err != nil {
				return err
			}
			c.Locals(principalKey, p)
			return c.Next()
		}
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		if len(secret) == 0 {
			return fiber.NewError(http.StatusUnauthorized, "token authentication is not configured")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		var claims Claims
		_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return fiber.NewError(http.StatusUnauthorized, "token expired")
			}
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if claims.Subject == "" {
			return fiber.NewError(http.StatusUnauthorized, "token has no subject")
		}

		c.Locals(principalKey, principalFor(claims.Subject, claims.OrganizationID, claims.Role))
		return c.Next()
	}
}

func principalFromHeaders(c *fiber.Ctx) (access.Principal, error) {
	owner := strings.TrimSpace(c.Get(ownerHeader))
	org := strings.TrimSpace(c.Get(organizationHeader))
	if owner == "" && org == "" {
		return access.Principal{}, fiber.NewError(http.StatusUnauthorized, "missing credentials")
	}
	if owner == "" {
		owner = org
	}
	return principalFor(owner, org, strings.TrimSpace(c.Get(roleHeader))), nil
}

// principalFor resolves the scope. An organization context always wins over
// the personal one.
func principalFor(subject, org, role string) access.Principal {
	scope := ledger.Personal(subject)
	if org != "" {
		scope = ledger.Organization(org)
	}
	return access.Principal{SubjectID: subject, Scope: scope, Role: role}
}

func principalFrom(c *fiber.Ctx) (access.Principal, bool) {
	p, ok := c.Locals(principalKey).(access.Principal)
	return p, ok
}

// PrincipalFrom returns the authenticated caller. Routes mounted behind
// Authenticate can rely on it being present.
func PrincipalFrom(c *fiber.Ctx) (access.Principal, error) {
	p, ok := principalFrom(c)
	if !ok {
		return access.Principal{}, fiber.NewError(http.StatusUnauthorized, "unauthenticated")
	}
	return p, nil
}

// ScopeFrom returns the owner scope of the authenticated caller.
func ScopeFrom(c *fiber.Ctx) (ledger.OwnerScope, error) {
	p, err := PrincipalFrom(c)
	if err != nil {
		return ledger.OwnerScope{}, err
	}
	return p.Scope, nil
}

// Require rejects callers lacking perm.
func Require(authz access.Authorizer, perm access.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := PrincipalFrom(c)
		if err != nil {
			return err
		}
		if !authz.Allowed(p, perm) {
			return fiber.NewError(http.StatusForbidden, "missing permission "+string(perm))
		}
		return c.Next()
	}
}

// IssueToken signs an HS256 access token. Used by operators and tests; the
// ledger itself never logs users in.
func IssueToken(secret, subject, organizationID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		OrganizationID: organizationID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
