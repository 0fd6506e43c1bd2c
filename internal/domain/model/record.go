// Пакет model — доменные типы Catalog Module: записи коллекций,
// ссылки на ассеты во внешнем хранилище и схемы коллекций.
package model

import (
	"io"
	"time"
)

// AssetRef — ссылка на бинарный объект во внешнем хранилище ассетов.
// Принадлежит ровно одной записи и никогда не разделяется между записями.
type AssetRef struct {
	// ExternalID — идентификатор объекта в хранилище ассетов
	ExternalID string `json:"public_id"`
	// RetrievalURL — URL для скачивания объекта
	RetrievalURL string `json:"url"`
	// OriginalName — исходное имя файла, переданное клиентом
	OriginalName string `json:"originalname"`
}

// Record — запись коллекции.
// Хранится в таблице records (или в памяти при CM_STORE_BACKEND=memory).
type Record struct {
	// ID — UUID записи
	ID string
	// Collection — имя коллекции (tests, users, products, transactions)
	Collection string
	// Name — отличительное поле, уникальное без учёта регистра.
	// Пустое для коллекций без отличительного поля.
	Name string
	// Fields — остальные поля записи в каноническом виде
	// (string, float64, []string, дата в RFC 3339)
	Fields map[string]any
	// Assets — упорядоченный список ссылок на ассеты
	Assets []AssetRef
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Clone возвращает глубокую копию записи.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = CloneFields(r.Fields)
	if r.Assets != nil {
		c.Assets = append([]AssetRef(nil), r.Assets...)
	}
	return &c
}

// ExternalIDs возвращает идентификаторы всех ассетов записи.
func (r *Record) ExternalIDs() []string {
	ids := make([]string, 0, len(r.Assets))
	for _, a := range r.Assets {
		ids = append(ids, a.ExternalID)
	}
	return ids
}

// Attachment — бинарное вложение, переданное вызывающей стороной.
type Attachment struct {
	// OriginalName — исходное имя файла
	OriginalName string
	// ContentType — MIME-тип
	ContentType string
	// Size — размер в байтах (0, если неизвестен)
	Size int64
	// Content — поток данных
	Content io.Reader
}

// Patch — изменение записи, применяемое атомарно на уровне хранилища.
type Patch struct {
	// Name — новое значение отличительного поля (nil — без изменений)
	Name *string
	// Fields — поля для слияния с текущими (ключ с nil удаляет поле)
	Fields map[string]any
	// Assets — новый набор ассетов, применяется при ReplaceAssets
	Assets []AssetRef
	// ReplaceAssets — заменить набор ассетов целиком
	ReplaceAssets bool
}

// Apply применяет patch к копии записи и возвращает результат.
// UpdatedAt не изменяется: его выставляет хранилище.
func (p *Patch) Apply(rec *Record) *Record {
	out := rec.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if out.Fields == nil {
		out.Fields = make(map[string]any, len(p.Fields))
	}
	for k, v := range p.Fields {
		if v == nil {
			delete(out.Fields, k)
			continue
		}
		out.Fields[k] = cloneValue(v)
	}
	if p.ReplaceAssets {
		out.Assets = append([]AssetRef{}, p.Assets...)
	}
	return out
}

// CloneFields возвращает глубокую копию набора полей.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		return append([]any(nil), t...)
	default:
		return v
	}
}

// FieldsFromJSON приводит поля, декодированные из JSON, к каноническим
// типам: списки строк становятся []string.
func FieldsFromJSON(fields map[string]any) map[string]any {
	for k, v := range fields {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		strs := make([]string, 0, len(list))
		for _, it := range list {
			s, ok := it.(string)
			if !ok {
				strs = nil
				break
			}
			strs = append(strs, s)
		}
		if strs != nil {
			fields[k] = strs
		}
	}
	return fields
}
