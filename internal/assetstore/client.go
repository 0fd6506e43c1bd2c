// Пакет assetstore — HTTP-клиент хранилища ассетов (Storage Element).
// Поддерживает TLS с кастомным CA (CM_ASSET_STORE_CA_CERT_PATH).
// Операции: Upload (POST /api/v1/files/upload), DeleteMany
// (DELETE /api/v1/files/{file_id} для каждого ассета), CheckReady.
package assetstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// ErrUnavailable — хранилище ассетов недоступно или ответило ошибкой.
var ErrUnavailable = errors.New("хранилище ассетов недоступно")

// TokenProvider — функция, возвращающая Bearer-токен для запросов к хранилищу.
// Статический токен (CM_ASSET_STORE_TOKEN) или Keycloak Client Credentials.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken возвращает TokenProvider с фиксированным токеном.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// UploadResult — результат загрузки ассета.
type UploadResult struct {
	ExternalID   string
	RetrievalURL string
}

// uploadResponse — часть ответа SE на POST /api/v1/files/upload.
type uploadResponse struct {
	FileID string `json:"file_id"`
}

// Config — параметры клиента.
type Config struct {
	// BaseURL — внутренний URL хранилища для загрузки и удаления
	BaseURL string
	// PublicURL — URL хранилища для ссылок на скачивание
	PublicURL string
	// CACertPath — путь к CA-сертификату (пустая строка — стандартный пул)
	CACertPath string
	// Timeout — таймаут HTTP-запроса
	Timeout time.Duration
}

// Client — HTTP-клиент хранилища ассетов.
type Client struct {
	baseURL       string
	publicURL     string
	httpClient    *http.Client
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// New создаёт клиент хранилища ассетов.
// tokenProvider может быть nil, если хранилище не требует авторизации.
func New(cfg Config, tokenProvider TokenProvider, logger *slog.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	if cfg.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата хранилища ассетов: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат хранилища ассетов добавлен в пул доверия",
			slog.String("ca_cert", cfg.CACertPath),
		)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = cfg.BaseURL
	}

	return &Client{
		baseURL:       normalizeURL(cfg.BaseURL),
		publicURL:     normalizeURL(publicURL),
		httpClient:    httpClient,
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "asset_store_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// authorize добавляет Bearer-токен к запросу.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.tokenProvider == nil {
		return nil
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return fmt.Errorf("%w: получение токена: %w", ErrUnavailable, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// Upload загружает вложение в хранилище.
// suggestedID передаётся в поле description и служит для сопоставления
// осиротевших ассетов с записями при разборе логов.
func (c *Client) Upload(ctx context.Context, att model.Attachment, suggestedID string) (*UploadResult, error) {
	if att.Content == nil {
		return nil, fmt.Errorf("вложение %q без содержимого", att.OriginalName)
	}

	// Тело multipart формируется потоково: вложение не буферизуется в памяти.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, att, suggestedID))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files/upload", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("создание запроса Upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.authorize(ctx, req); err != nil {
		pr.Close()
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: загрузка %q: %w", ErrUnavailable, att.OriginalName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: Upload вернул статус %d: %s",
			ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("%w: декодирование ответа Upload: %w", ErrUnavailable, err)
	}
	if ur.FileID == "" {
		return nil, fmt.Errorf("%w: ответ Upload без file_id", ErrUnavailable)
	}

	c.logger.Debug("Ассет загружен",
		slog.String("external_id", ur.FileID),
		slog.String("original_name", att.OriginalName),
		slog.String("suggested_id", suggestedID),
	)

	return &UploadResult{
		ExternalID:   ur.FileID,
		RetrievalURL: c.RetrievalURL(ur.FileID),
	}, nil
}

// writeUploadForm пишет поля формы загрузки и закрывает multipart writer.
func writeUploadForm(mw *multipart.Writer, att model.Attachment, suggestedID string) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, att.OriginalName))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, att.Content); err != nil {
		return err
	}
	if err := mw.WriteField("description", suggestedID); err != nil {
		return err
	}
	return mw.Close()
}

// RetrievalURL возвращает публичный URL скачивания ассета.
func (c *Client) RetrievalURL(externalID string) string {
	return c.publicURL + "/api/v1/files/" + url.PathEscape(externalID) + "/download"
}

// DeleteMany удаляет ассеты параллельно. Ассет, которого уже нет (404),
// считается удалённым. Остальные ошибки объединяются: вызывающий решает,
// логировать их или прерывать операцию.
func (c *Client) DeleteMany(ctx context.Context, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range externalIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.deleteOne(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	}
	c.logger.Debug("Ассеты удалены", slog.Int("count", len(externalIDs)))
	return nil
}

func (c *Client) deleteOne(ctx context.Context, externalID string) error {
	reqURL := c.baseURL + "/api/v1/files/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return fmt.Errorf("создание запроса Delete %s: %w", externalID, err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("удаление %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("удаление %s: статус %d: %s", externalID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// Name возвращает имя проверки в ответе /health/ready.
func (c *Client) Name() string { return "asset_store" }

// CheckReady проверяет доступность хранилища через GET /health/live.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health/live", nil)
	if err != nil {
		return "fail", fmt.Sprintf("создание запроса: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("хранилище ассетов недоступно: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("хранилище ассетов вернуло статус %d", resp.StatusCode)
	}
	return "ok", "хранилище ассетов доступно"
}

// BaseURL возвращает нормализованный внутренний URL хранилища.
// Используется при регистрации зависимости в topologymetrics.
func (c *Client) BaseURL() string { return c.baseURL }

// normalizeURL убирает trailing slash из URL.
func normalizeURL(rawURL string) string {
	return strings.TrimRight(rawURL, "/")
}
