// Пакет errors — HTTP-ответы с ошибками Catalog Module.
// Тело ответа всегда {"error": {"code": "...", "message": "..."}}.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/bigkaa/goartstore/catalog-module/internal/service"
)

// Коды ошибок API.
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeTokenRevoked          = "TOKEN_REVOKED"
	CodeForbidden             = "FORBIDDEN"
	CodeConflict              = "CONFLICT"
	CodePayloadTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeAssetStoreUnavailable = "ASSET_STORE_UNAVAILABLE"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeInternalError         = "INTERNAL_ERROR"
)

// internalMessage заменяет текст ошибок 500, чтобы детали не уходили клиенту.
const internalMessage = "Внутренняя ошибка сервера"

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteError записывает ответ ошибки.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// ValidationError — 400.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// MethodNotAllowed — 405.
func MethodNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, message)
}

// Unauthorized — 401, требуется вход.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403, роль не позволяет операцию.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// PayloadTooLarge — 413, тело запроса больше CM_MAX_UPLOAD_SIZE.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// InternalError — 500.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// classification сопоставляет ошибку сервисного слоя с HTTP-ответом.
type classification struct {
	target error
	status int
	code   string
}

// classifications проверяются по порядку: ErrAssetStoreUnavailable
// является частным случаем ErrInfrastructure и должна идти раньше.
var classifications = []classification{
	{service.ErrValidation, http.StatusBadRequest, CodeValidationError},
	{service.ErrDuplicate, http.StatusConflict, CodeConflict},
	{service.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{service.ErrUnknownCollection, http.StatusNotFound, CodeNotFound},
	{service.ErrTokenRevoked, http.StatusUnauthorized, CodeTokenRevoked},
	{service.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
	{service.ErrAssetStoreUnavailable, http.StatusBadGateway, CodeAssetStoreUnavailable},
	{service.ErrInfrastructure, http.StatusServiceUnavailable, CodeStoreUnavailable},
}

// Classify возвращает HTTP-статус и код для ошибки сервисного слоя.
// Неизвестные ошибки — 500 INTERNAL_ERROR.
func Classify(err error) (int, string) {
	for _, c := range classifications {
		if stderrors.Is(err, c.target) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, CodeInternalError
}

// FromService записывает ответ для ошибки сервисного слоя.
func FromService(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = internalMessage
	}
	WriteError(w, status, code, message)
}
