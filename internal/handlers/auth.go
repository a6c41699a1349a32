package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the role claim.
const (
	RoleRecruiter = "recruiter"
	RoleCandidate = "candidate"
)

type contextKey string

const contextPrincipalKey contextKey = "principal"

// Claims are the JWT claims issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
}

// Principal is the authenticated caller. CompanyID is set for recruiters.
type Principal struct {
	UserID    uuid.UUID
	Role      string
	CompanyID uuid.UUID
}

// RequireAuth constructs auth middleware for routers.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return requireAuth([]byte(jwtSecret))
}

func requireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			principal, err := parseToken(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers without the given role. Recruiters must also
// belong to a company.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if principal.Role != role || (role == RoleRecruiter && principal.CompanyID == uuid.Nil) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(contextPrincipalKey).(Principal)
	return principal, ok && principal.UserID != uuid.Nil
}

// IssueToken signs an HS256 token for principal. Used by the token command
// and tests; production tokens come from the identity service.
func IssueToken(jwtSecret string, principal Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: principal.Role,
	}
	if principal.CompanyID != uuid.Nil {
		claims.CompanyID = principal.CompanyID.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

func parseToken(tokenString string, secret []byte) (Principal, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, errors.New("invalid token")
	}

	userID, err := uuid.Parse(strings.TrimSpace(claims.Subject))
	if err != nil {
		return Principal{}, errors.New("invalid subject")
	}
	principal := Principal{UserID: userID, Role: strings.ToLower(strings.TrimSpace(claims.Role))}
	if raw := strings.TrimSpace(claims.CompanyID); raw != "" {
		if principal.CompanyID, err = uuid.Parse(raw); err != nil {
			return Principal{}, errors.New("invalid company")
		}
	}
	return principal, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
