// session.go — выпуск, проверка и отзыв сессионных токенов.
// Токен — JWT HS256 со сроком действия 7 дней. Истечение срока выводится
// из проверки подписи и exp, отдельно не отслеживается.
//
// Набор отозванных токенов хранится только в памяти процесса и теряется
// при перезапуске: после рестарта отозванный, но не истёкший токен
// снова становится действительным.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TokenTTL — срок действия сессионного токена.
const TokenTTL = 7 * 24 * time.Hour

var revokedTokensGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cm_revoked_tokens",
	Help: "Количество отозванных токенов в памяти процесса.",
})

// SessionClaims — claims сессионного токена.
type SessionClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// RevocationSet — потокобезопасный набор отозванных токенов.
// Только добавление: элементы не удаляются и не вытесняются.
type RevocationSet struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewRevocationSet создаёт пустой набор отозванных токенов.
func NewRevocationSet() *RevocationSet {
	return &RevocationSet{tokens: make(map[string]struct{})}
}

// Add добавляет токен. Повторное добавление не меняет набор.
func (rs *RevocationSet) Add(token string) {
	rs.mu.Lock()
	rs.tokens[token] = struct{}{}
	n := len(rs.tokens)
	rs.mu.Unlock()
	revokedTokensGauge.Set(float64(n))
}

// Contains проверяет наличие токена.
func (rs *RevocationSet) Contains(token string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.tokens[token]
	return ok
}

// Len возвращает количество отозванных токенов.
func (rs *RevocationSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.tokens)
}

// SessionService — сервис сессионных токенов.
type SessionService struct {
	secret  []byte
	issuer  string
	revoked *RevocationSet
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionService создаёт сервис сессионных токенов.
// revoked может быть nil — тогда создаётся пустой набор.
func NewSessionService(secret, issuer string, revoked *RevocationSet, logger *slog.Logger) *SessionService {
	if revoked == nil {
		revoked = NewRevocationSet()
	}
	return &SessionService{
		secret:  []byte(secret),
		issuer:  issuer,
		revoked: revoked,
		logger:  logger.With(slog.String("component", "session_service")),
		now:     time.Now,
	}
}

// Issue выпускает подписанный токен для identity с указанными ролями.
// Возвращает токен и время истечения.
func (s *SessionService) Issue(identity string, roles []string) (string, time.Time, error) {
	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(TokenTTL)

	claims := SessionClaims{
		Roles: append([]string(nil), roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}

	s.logger.Debug("Токен выпущен",
		slog.String("subject", identity),
		slog.String("jti", claims.ID),
	)
	return token, expiresAt, nil
}

// Verify проверяет подпись, issuer, срок действия и отзыв токена.
// ErrUnauthorized — токен недействителен или истёк, ErrTokenRevoked — отозван.
func (s *SessionService) Verify(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: токен отсутствует", ErrUnauthorized)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: срок действия токена истёк", ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err) //nolint:errorlint // намеренный двойной wrap
	}

	if s.revoked.Contains(token) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke отзывает токен. Идемпотентна.
func (s *SessionService) Revoke(token string) {
	s.revoked.Add(token)
	s.logger.Debug("Токен отозван", slog.Int("revoked_total", s.revoked.Len()))
}

// IsRevoked сообщает, отозван ли токен.
func (s *SessionService) IsRevoked(token string) bool {
	return s.revoked.Contains(token)
}
