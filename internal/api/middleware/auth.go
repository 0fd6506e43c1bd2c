// auth.go — middleware аутентификации и авторизации Catalog Module.
// Токен сессии берётся из заголовка Authorization (Bearer) или cookie jwt,
// проверяется SessionService: подпись HS256, issuer, срок действия, отзыв.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/catalog-module/internal/api/errors"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/catalog-module/internal/service"
)

// CookieName — имя cookie с токеном сессии.
const CookieName = "jwt"

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — claims сессии в контексте запроса.
	ContextKeyClaims contextKey = "session_claims"

	contextKeySubjectHolder contextKey = "subject_holder"
)

// AuthClaims — claims аутентифицированного пользователя.
type AuthClaims struct {
	// Subject — id пользователя (запись коллекции users).
	Subject string
	// Roles — роли из токена.
	Roles []string
	// EffectiveRole — максимальная роль из Roles.
	EffectiveRole string
	// Token — исходный токен (для logout).
	Token string
}

// HasRole проверяет, что роль субъекта не ниже указанной.
func (c *AuthClaims) HasRole(role string) bool {
	return rbac.HasRole(c.Roles, role)
}

// TokenVerifier — проверка сессионного токена.
// Реализуется *service.SessionService.
type TokenVerifier interface {
	Verify(token string) (*service.SessionClaims, error)
}

// SessionAuth — middleware аутентификации по сессионному токену.
type SessionAuth struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewSessionAuth создаёт middleware аутентификации.
func NewSessionAuth(verifier TokenVerifier, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{
		verifier: verifier,
		logger:   logger.With(slog.String("component", "session_auth")),
	}
}

// TokenFromRequest извлекает токен из Authorization: Bearer или cookie jwt.
// Заголовок имеет приоритет. Пустая строка — токена нет.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// authenticate проверяет токен и возвращает claims.
func (a *SessionAuth) authenticate(r *http.Request, token string) (*AuthClaims, error) {
	sc, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.Debug("Токен отклонён",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return nil, err
	}
	if sc.Subject == "" {
		return nil, fmt.Errorf("%w: отсутствует sub в токене", service.ErrUnauthorized)
	}
	return &AuthClaims{
		Subject:       sc.Subject,
		Roles:         sc.Roles,
		EffectiveRole: rbac.HighestRole(sc.Roles),
		Token:         token,
	}, nil
}

// Middleware требует действительный токен и помещает claims в контекст.
func (a *SessionAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				apierrors.Unauthorized(w, "Требуется вход: отсутствует токен")
				return
			}

			claims, err := a.authenticate(r, token)
			if err != nil {
				apierrors.FromService(w, err)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional пропускает запросы без токена. Если токен передан,
// он обязан быть действительным.
func (a *SessionAuth) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := a.authenticate(r, token)
			if err != nil {
				apierrors.FromService(w, err)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// --- RBAC middleware helpers ---

// RequireWriteAccess возвращает middleware прав на изменение записей
// коллекции из URL-параметра {collection}:
//   - admin может изменять любые коллекции;
//   - регистрация (POST users) доступна всем, в том числе без входа;
//   - пользователь может изменять и удалять собственную запись users;
//   - customer может создавать транзакции.
//
// Должен использоваться ПОСЛЕ SessionAuth.Middleware() или Optional().
func RequireWriteAccess() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			collection := chi.URLParam(r, "collection")
			if r.Method == http.MethodPost && collection == model.CollectionUsers {
				next.ServeHTTP(w, r)
				return
			}

			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			if canWrite(claims, r.Method, collection, chi.URLParam(r, "id")) {
				next.ServeHTTP(w, r)
				return
			}
			apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		})
	}
}

// canWrite решает, может ли субъект выполнить изменение.
func canWrite(claims *AuthClaims, method, collection, id string) bool {
	if claims.HasRole(rbac.RoleAdmin) {
		return true
	}
	switch collection {
	case model.CollectionUsers:
		return id != "" && strings.EqualFold(id, claims.Subject) &&
			(method == http.MethodPut || method == http.MethodDelete)
	case model.CollectionTransactions:
		return method == http.MethodPost && claims.HasRole(rbac.RoleCustomer)
	default:
		return false
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// WithClaims возвращает контекст с claims.
func WithClaims(ctx context.Context, claims *AuthClaims) context.Context {
	if h, ok := ctx.Value(contextKeySubjectHolder).(*subjectHolder); ok && claims != nil {
		h.subject = claims.Subject
	}
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// subjectHolder передаёт субъекта сессии из auth middleware в RequestLogger.
type subjectHolder struct {
	subject string
}

func withSubjectHolder(ctx context.Context, h *subjectHolder) context.Context {
	return context.WithValue(ctx, contextKeySubjectHolder, h)
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если claims не найдены.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}
