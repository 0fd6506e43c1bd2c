// client.go — источник сервисного токена Keycloak (Client Credentials flow)
// для авторизации запросов Catalog Module к хранилищу ассетов.
// Токен кэшируется и обновляется за 30s до истечения; параллельные
// обновления объединяются в один запрос к token endpoint.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// refreshMargin — запас до истечения, при котором токен обновляется заранее.
	refreshMargin = 30 * time.Second
	// readyTimeout — таймаут проверки доступности realm.
	readyTimeout = 5 * time.Second
)

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenError — ошибка OAuth2 token endpoint (RFC 6749, 5.2).
type tokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// Client — клиент token endpoint Keycloak.
type Client struct {
	realmURL     string
	realm        string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	refresh singleflight.Group

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// New создаёт клиент Keycloak.
// httpClient может быть nil — тогда используется клиент с таймаутом 30s.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		realmURL:     strings.TrimRight(baseURL, "/") + "/realms/" + url.PathEscape(realm),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
		now:          time.Now,
	}
}

// cached возвращает токен из кэша, если до истечения больше refreshMargin.
func (c *Client) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.now().Add(refreshMargin).Before(c.expiry) {
		return "", false
	}
	return c.token, true
}

// hasValidToken сообщает, что кэшированный токен ещё не истёк.
func (c *Client) hasValidToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != "" && c.now().Before(c.expiry)
}

// Token возвращает актуальный access token, обновляя его при необходимости.
// Отмена ctx прерывает ожидание, но не запрос, начатый для других вызовов.
func (c *Client) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	ch := c.refresh.DoChan("token", func() (any, error) {
		if token, ok := c.cached(); ok {
			return token, nil
		}
		return c.fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// fetch получает новый токен и сохраняет его в кэше.
func (c *Client) fetch(ctx context.Context) (string, error) {
	resp, err := c.requestToken(ctx)
	if err != nil {
		c.logger.Warn("Не удалось получить токен Keycloak",
			slog.String("realm", c.realm),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	expiry := c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)

	c.mu.Lock()
	c.token = resp.AccessToken
	c.expiry = expiry
	c.mu.Unlock()

	c.logger.Debug("Keycloak токен обновлён",
		slog.Time("expires_at", expiry),
	)
	return resp.AccessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.realmURL+"/protocol/openid-connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа Keycloak: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var te tokenError
		if json.Unmarshal(body, &te) == nil && te.Code != "" {
			return nil, fmt.Errorf("Keycloak отклонил запрос токена (%d): %s %s",
				resp.StatusCode, te.Code, te.Description)
		}
		return nil, fmt.Errorf("Keycloak вернул статус %d при запросе токена", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("Keycloak вернул пустой access_token")
	}

	return &token, nil
}

// Name возвращает имя проверки в ответе /health/ready.
func (c *Client) Name() string { return "keycloak" }

// CheckReady проверяет доступность realm (GET /realms/{realm}, публичный).
// Пока кэшированный токен действителен, недоступность Keycloak
// не мешает работе с хранилищем ассетов: статус degraded.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	problem := c.probeRealm(ctx)
	switch {
	case problem == "":
		return "ok", fmt.Sprintf("Realm %s доступен", c.realm)
	case c.hasValidToken():
		return "degraded", problem + "; используется кэшированный токен"
	default:
		return "fail", problem
	}
}

// probeRealm возвращает описание проблемы или пустую строку.
func (c *Client) probeRealm(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.realmURL, nil)
	if err != nil {
		return fmt.Sprintf("создание запроса: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Keycloak недоступен: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Realm %s: статус %d", c.realm, resp.StatusCode)
	}
	return ""
}

// TokenProvider возвращает функцию, которая предоставляет access token.
// Используется клиентом хранилища ассетов.
func (c *Client) TokenProvider() func(ctx context.Context) (string, error) {
	return c.Token
}
