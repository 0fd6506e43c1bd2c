// auth.go — обработчики сессий пользователей:
// POST /api/v1/auth/login, POST /api/v1/auth/logout,
// PUT /api/v1/auth/password, GET /api/v1/auth/me.
package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/catalog-module/internal/api/errors"
	"github.com/bigkaa/goartstore/catalog-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// loginRequest — тело запроса входа.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse — ответ на успешный вход.
type loginResponse struct {
	User      map[string]any `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt string         `json:"expires_at"`
}

// passwordRequest — тело запроса смены пароля.
type passwordRequest struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// decodeForm заполняет dst из JSON или из полей формы.
// formFields сопоставляет имя поля формы с указателем на строку в dst.
func decodeForm(r *http.Request, dst any, formFields map[string]*string) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return err
		}
		for name, ptr := range formFields {
			*ptr = r.FormValue(name)
		}
		return nil
	default:
		return json.NewDecoder(r.Body).Decode(dst)
	}
}

// Login — POST /api/v1/auth/login.
// Устанавливает HttpOnly cookie jwt и возвращает токен в теле ответа.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeForm(r, &req, map[string]*string{
		"email":    &req.Email,
		"password": &req.Password,
	}); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, result.Token, result.MaxAge)

	users, _ := model.Lookup(model.CollectionUsers)
	writeJSON(w, http.StatusOK, loginResponse{
		User:      users.Document(result.User),
		Token:     result.Token,
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}

// Logout — POST /api/v1/auth/logout.
// Отзывает токен из cookie или заголовка Authorization и удаляет cookie.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(middleware.TokenFromRequest(r)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePassword — PUT /api/v1/auth/password.
func (h *APIHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	var req passwordRequest
	if err := decodeForm(r, &req, map[string]*string{
		"old_password":     &req.OldPassword,
		"new_password":     &req.NewPassword,
		"confirm_password": &req.ConfirmPassword,
	}); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	if err := h.accounts.UpdatePassword(r.Context(), claims.Subject,
		req.OldPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me — GET /api/v1/auth/me. Возвращает запись текущего пользователя.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}

	user, err := h.records.Get(r.Context(), model.CollectionUsers, claims.Subject)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	users, _ := model.Lookup(model.CollectionUsers)
	writeJSON(w, http.StatusOK, users.Document(user))
}

// setSessionCookie устанавливает или удаляет (maxAge < 0) cookie jwt.
// Secure-cookie требует SameSite=None для кросс-доменного клиента.
func (h *APIHandler) setSessionCookie(w http.ResponseWriter, token string, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     middleware.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cookieSecure {
		cookie.SameSite = http.SameSiteNoneMode
	}
	if maxAge < 0 {
		cookie.MaxAge = -1
	} else {
		cookie.MaxAge = int(maxAge / time.Second)
	}
	http.SetCookie(w, cookie)
}
