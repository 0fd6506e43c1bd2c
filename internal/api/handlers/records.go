// records.go — обработчики CRUD записей коллекций:
// GET/POST /api/v1/{collection}, GET/PUT/DELETE /api/v1/{collection}/{id}.
// Пользователи создаются и обновляются через сервис учётных записей.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/goartstore/catalog-module/internal/api/errors"
	"github.com/bigkaa/goartstore/catalog-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/rbac"
)

// listResponse — страница записей коллекции.
type listResponse struct {
	Items   []map[string]any `json:"items"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
}

// ListRecords — GET /api/v1/{collection}.
func (h *APIHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	coll, ok := h.collectionFromRequest(w, r)
	if !ok {
		return
	}

	limitParam, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	offsetParam, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit, offset := paginationDefaults(limitParam, offsetParam)

	result, err := h.records.List(r.Context(), coll.Name, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items, err := h.records.Documents(r.Context(), coll, result.Items, false)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:   items,
		Total:   result.Total,
		Limit:   limit,
		Offset:  offset,
		HasMore: result.HasMore,
	})
}

// GetRecord — GET /api/v1/{collection}/{id}.
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	coll, ok := h.collectionFromRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Get(r.Context(), coll.Name, idFromRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeDocument(w, r, http.StatusOK, coll, rec, false)
}

// CreateRecord — POST /api/v1/{collection}.
// Тело: multipart/form-data с файлами в поле image или JSON.
func (h *APIHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	coll, ok := h.collectionFromRequest(w, r)
	if !ok {
		return
	}
	if coll.Name == model.CollectionUsers {
		h.Register(w, r)
		return
	}

	p, err := h.parsePayload(w, r, coll)
	if err != nil {
		h.writePayloadError(w, r, err)
		return
	}
	defer p.Close()

	rec, err := h.records.Create(r.Context(), coll.Name, p.fields, p.attachments)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeDocument(w, r, http.StatusCreated, coll, rec, true)
}

// UpdateRecord — PUT /api/v1/{collection}/{id}.
// Переданные вложения полностью заменяют набор ассетов записи.
func (h *APIHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	coll, ok := h.collectionFromRequest(w, r)
	if !ok {
		return
	}
	if coll.Name == model.CollectionUsers {
		h.UpdateUser(w, r)
		return
	}

	p, err := h.parsePayload(w, r, coll)
	if err != nil {
		h.writePayloadError(w, r, err)
		return
	}
	defer p.Close()

	rec, err := h.records.Update(r.Context(), coll.Name, idFromRequest(r), p.fields, p.attachments)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeDocument(w, r, http.StatusOK, coll, rec, true)
}

// writeDocument отдаёт запись со встроенными связанными записями.
func (h *APIHandler) writeDocument(w http.ResponseWriter, r *http.Request, status int, coll *model.Collection, rec *model.Record, write bool) {
	doc, err := h.records.Document(r.Context(), coll, rec, write)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, doc)
}

// DeleteRecord — DELETE /api/v1/{collection}/{id}.
// Возвращает снимок удалённой записи без встраивания связанных.
func (h *APIHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	coll, ok := h.collectionFromRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.records.Delete(r.Context(), coll.Name, idFromRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, coll.Document(rec))
}

// Register — POST /api/v1/users. Регистрация доступна без входа,
// назначать роли может только администратор.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	users, _ := model.Lookup(model.CollectionUsers)

	p, err := h.parsePayload(w, r, users)
	if err != nil {
		h.writePayloadError(w, r, err)
		return
	}
	defer p.Close()

	if !h.canAssignRoles(r, p.fields) {
		apierrors.Forbidden(w, "Назначать роли может только администратор")
		return
	}

	user, err := h.accounts.Register(r.Context(), p.fields, p.password, p.attachments)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, users.Document(user))
}

// UpdateUser — PUT /api/v1/users/{id}. Пароль меняется только через
// PUT /api/v1/auth/password.
func (h *APIHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	users, _ := model.Lookup(model.CollectionUsers)

	p, err := h.parsePayload(w, r, users)
	if err != nil {
		h.writePayloadError(w, r, err)
		return
	}
	defer p.Close()

	if p.hasPassword {
		apierrors.ValidationError(w, "Пароль меняется через /api/v1/auth/password")
		return
	}
	if !h.canAssignRoles(r, p.fields) {
		apierrors.Forbidden(w, "Назначать роли может только администратор")
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), idFromRequest(r), p.fields, p.attachments)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, users.Document(user))
}

// canAssignRoles проверяет право вызывающего задать поле roles.
func (h *APIHandler) canAssignRoles(r *http.Request, fields map[string]any) bool {
	if _, ok := fields[model.FieldRoles]; !ok {
		return true
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims != nil && claims.HasRole(rbac.RoleAdmin) {
		return true
	}
	h.logger.Warn("Попытка назначить роли без прав администратора",
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)
	return false
}

// formatTime форматирует время для JSON-ответов.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
