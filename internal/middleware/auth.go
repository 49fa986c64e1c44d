// Package middleware содержит HTTP middleware маркетплейса услуг.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/servicemarket/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "auth_token"
	tokenTTL       = 24 * time.Hour
)

type claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// AuthMiddleware выпускает и проверяет JWT-токены учётных записей.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом ключе генерируется случайный: токены не переживут перезапуск.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// IssueToken подписывает токен для учётной записи.
func (a *AuthMiddleware) IssueToken(id model.Identity) (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.AccountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Role: id.Role,
	})

	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// SetAuthCookie устанавливает cookie с токеном.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  a.now().Add(tokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware проверяет токен из заголовка Authorization или cookie и добавляет Identity в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			unauthorized(w)
			return
		}

		id, err := a.parseToken(raw)
		if err != nil {
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только запросы с одной из перечисленных ролей.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := GetIdentityFromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if !slices.Contains(roles, id.Role) {
				writeError(w, http.StatusForbidden, "role "+string(id.Role)+" is not allowed here")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *AuthMiddleware) parseToken(raw string) (model.Identity, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (any, error) {
		return a.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return model.Identity{}, err
	}
	if !token.Valid || !c.Role.Valid() {
		return model.Identity{}, errors.New("invalid token")
	}

	accountID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || accountID <= 0 {
		return model.Identity{}, errors.New("invalid subject")
	}

	return model.Identity{AccountID: accountID, Role: c.Role}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GetIdentityFromContext извлекает Identity из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}

// WithIdentity возвращает контекст с Identity. Используется в тестах обработчиков.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}
