// payload.go — разбор тела запроса на создание и обновление записи.
// Поддерживаются multipart/form-data (поля формы и файлы в поле image)
// и application/json (поля без вложений).
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/catalog-module/internal/api/errors"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// multipartMemory — объём multipart-формы, удерживаемый в памяти.
// Остальное сохраняется во временные файлы.
const multipartMemory = 8 << 20

// passwordField — поле пароля в теле запроса пользователя.
const passwordField = "password"

// errPayloadTooLarge — тело запроса превышает CM_MAX_UPLOAD_SIZE.
var errPayloadTooLarge = errors.New("тело запроса превышает допустимый размер")

// recordPayload — разобранное тело запроса.
type recordPayload struct {
	// fields — поля записи после отбрасывания служебных и скрытых ключей
	fields map[string]any
	// password — пароль пользователя (только для коллекции users)
	password string
	// hasPassword — пароль передан в запросе
	hasPassword bool
	// attachments — файлы из поля image в порядке передачи
	attachments []model.Attachment

	form    *multipart.Form
	closers []io.Closer
}

// Close освобождает открытые файлы и временные файлы формы.
func (p *recordPayload) Close() {
	for _, c := range p.closers {
		_ = c.Close()
	}
	if p.form != nil {
		_ = p.form.RemoveAll()
	}
}

// parsePayload разбирает тело запроса для коллекции coll.
// Размер тела ограничен maxUploadSize.
func (h *APIHandler) parsePayload(w http.ResponseWriter, r *http.Request, coll *model.Collection) (*recordPayload, error) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	var (
		raw map[string]any
		p   = &recordPayload{}
		err error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		raw, err = p.readMultipart(r)
	default:
		raw, err = readJSON(r)
	}
	if err != nil {
		p.Close()
		return nil, err
	}

	if v, ok := raw[passwordField]; ok && coll.Name == model.CollectionUsers {
		s, isString := v.(string)
		if !isString {
			p.Close()
			return nil, fmt.Errorf("поле %q должно быть строкой", passwordField)
		}
		p.password = s
		p.hasPassword = true
	}
	p.fields = coll.Sanitize(raw)
	return p, nil
}

// readMultipart разбирает multipart-форму. Повторяющиеся значения
// поля передаются списком, одиночные — строкой.
func (p *recordPayload) readMultipart(r *http.Request) (map[string]any, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			return nil, errPayloadTooLarge
		}
		return nil, fmt.Errorf("некорректная multipart-форма: %w", err)
	}
	p.form = r.MultipartForm

	raw := make(map[string]any, len(p.form.Value))
	for k, values := range p.form.Value {
		switch len(values) {
		case 0:
		case 1:
			raw[k] = values[0]
		default:
			raw[k] = append([]string(nil), values...)
		}
	}

	for _, fh := range p.form.File[model.AssetsField] {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("открытие файла %q: %w", fh.Filename, err)
		}
		p.closers = append(p.closers, f)
		p.attachments = append(p.attachments, model.Attachment{
			OriginalName: fh.Filename,
			ContentType:  fh.Header.Get("Content-Type"),
			Size:         fh.Size,
			Content:      f,
		})
	}
	return raw, nil
}

// readJSON декодирует JSON-объект. Пустое тело — пустой объект.
func readJSON(r *http.Request) (map[string]any, error) {
	raw := make(map[string]any)
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return raw, nil
		}
		if isTooLarge(err) {
			return nil, errPayloadTooLarge
		}
		return nil, fmt.Errorf("некорректный JSON: %w", err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	return raw, nil
}

// isTooLarge сообщает, что чтение тела упёрлось в MaxBytesReader.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// writePayloadError записывает ответ для ошибки разбора тела запроса.
func (h *APIHandler) writePayloadError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errPayloadTooLarge) {
		h.logger.Warn("Тело запроса превышает лимит",
			slog.String("path", r.URL.Path),
			slog.Int64("limit", h.maxUploadSize),
		)
		apierrors.PayloadTooLarge(w, err.Error())
		return
	}
	apierrors.ValidationError(w, err.Error())
}
