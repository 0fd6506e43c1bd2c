package model

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/collation"
)

// ErrInvalid — данные записи не соответствуют схеме коллекции.
var ErrInvalid = errors.New("данные записи не соответствуют схеме")

// FieldKind — тип поля записи.
type FieldKind string

const (
	// KindString — строка
	KindString FieldKind = "string"
	// KindNumber — число (float64)
	KindNumber FieldKind = "number"
	// KindStringList — список строк
	KindStringList FieldKind = "string_list"
	// KindRef — UUID записи другой коллекции
	KindRef FieldKind = "ref"
	// KindRefList — список UUID записей другой коллекции
	KindRefList FieldKind = "ref_list"
	// KindDate — дата, хранится строкой RFC 3339 в UTC
	KindDate FieldKind = "date"
)

// Field — описание поля коллекции.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	// Enum — допустимые значения (только для KindString)
	Enum []string
	// Default — значение по умолчанию при создании
	Default any
}

// Dependent — зависимая коллекция: её записи ссылаются на владельца
// через поле ForeignKey и удаляются вместе с ним.
type Dependent struct {
	Collection string
	ForeignKey string
}

// Collection — схема коллекции записей.
type Collection struct {
	// Name — имя коллекции в URL и хранилище
	Name string
	// NameField — имя отличительного поля в API; пустое, если у коллекции
	// нет отличительного поля и проверки уникальности
	NameField string
	// RequireAssets — запись обязана иметь хотя бы один ассет
	RequireAssets bool
	// Fields — остальные поля
	Fields []Field
	// Hidden — поля, которые не принимаются от клиента и не отдаются ему
	Hidden []string
	// Dependents — зависимые коллекции для каскадного удаления
	Dependents []Dependent
	// Populate — ссылки, вместо которых в ответах встраиваются связанные записи
	Populate []Populate
}

// Populate — правило встраивания связанной записи в документ.
// Поле Field (KindRef или KindRefList) заменяется документом записи
// коллекции Collection, сокращённым до id и полей Select.
type Populate struct {
	Field      string
	Collection string
	// Select — поля в ответах на чтение
	Select []string
	// WriteSelect — поля в ответах на создание и обновление; nil — как Select
	WriteSelect []string
}

// Fields возвращает набор полей для ответа на запись (write) или чтение.
func (p Populate) Fields(write bool) []string {
	if write && p.WriteSelect != nil {
		return p.WriteSelect
	}
	return p.Select
}

// AssetsField — ключ списка ассетов в документе записи.
const AssetsField = "image"

// Служебные ключи документа, которые клиент не может задать.
var reservedKeys = []string{"id", "_id", "created_at", "updated_at", AssetsField}

// Field возвращает описание поля по имени.
func (c *Collection) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IsHidden сообщает, скрыто ли поле от клиента.
func (c *Collection) IsHidden(name string) bool {
	return slices.Contains(c.Hidden, name)
}

// Sanitize оставляет во входных данных клиента только объявленные
// нескрытые поля и отличительное поле.
func (c *Collection) Sanitize(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		if slices.Contains(reservedKeys, k) || c.IsHidden(k) {
			continue
		}
		if k == c.NameField && c.NameField != "" {
			out[k] = v
			continue
		}
		if _, ok := c.Field(k); ok {
			out[k] = v
		}
	}
	return out
}

// Normalize разделяет входные данные на отличительное поле и остальные
// поля, приводя значения к каноническим типам. name == nil, если
// отличительное поле не передано.
func (c *Collection) Normalize(input map[string]any) (name *string, fields map[string]any, err error) {
	fields = make(map[string]any, len(input))
	for k, v := range input {
		if c.NameField != "" && k == c.NameField {
			s, err := coerceString(v)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: поле %q: %w", ErrInvalid, k, err)
			}
			s = collation.Normalize(s)
			name = &s
			continue
		}
		f, ok := c.Field(k)
		if !ok {
			return nil, nil, fmt.Errorf("%w: неизвестное поле %q", ErrInvalid, k)
		}
		if v == nil {
			fields[k] = nil
			continue
		}
		cv, err := coerce(f.Kind, v)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: поле %q: %w", ErrInvalid, k, err)
		}
		fields[k] = cv
	}
	return name, fields, nil
}

// ApplyDefaults заполняет отсутствующие поля значениями по умолчанию.
func (c *Collection) ApplyDefaults(fields map[string]any) {
	for _, f := range c.Fields {
		if f.Default == nil {
			continue
		}
		if _, ok := fields[f.Name]; ok {
			continue
		}
		fields[f.Name] = cloneValue(f.Default)
	}
}

// Validate проверяет запись целиком: обязательные поля, допустимые
// значения перечислений и наличие ассетов.
func (c *Collection) Validate(rec *Record) error {
	if c.NameField != "" && strings.TrimSpace(rec.Name) == "" {
		return fmt.Errorf("%w: поле %q обязательно", ErrInvalid, c.NameField)
	}
	for _, f := range c.Fields {
		v, ok := rec.Fields[f.Name]
		if !ok || isEmpty(v) {
			if f.Required {
				return fmt.Errorf("%w: поле %q обязательно", ErrInvalid, f.Name)
			}
			continue
		}
		if len(f.Enum) > 0 {
			s, _ := v.(string)
			if !slices.Contains(f.Enum, s) {
				return fmt.Errorf("%w: поле %q: значение %q не входит в %s",
					ErrInvalid, f.Name, s, strings.Join(f.Enum, ", "))
			}
		}
	}
	if c.RequireAssets && len(rec.Assets) == 0 {
		return fmt.Errorf("%w: требуется хотя бы одно изображение", ErrInvalid)
	}
	return nil
}

// Document формирует представление записи для клиента:
// отличительное поле под ключом NameField, ассеты под ключом image,
// скрытые поля исключены.
func (c *Collection) Document(rec *Record) map[string]any {
	doc := make(map[string]any, len(rec.Fields)+5)
	for k, v := range rec.Fields {
		if c.IsHidden(k) {
			continue
		}
		doc[k] = v
	}
	doc["id"] = rec.ID
	if c.NameField != "" {
		doc[c.NameField] = rec.Name
	}
	if c.RequireAssets || len(rec.Assets) > 0 {
		assets := rec.Assets
		if assets == nil {
			assets = []AssetRef{}
		}
		doc[AssetsField] = assets
	}
	doc["created_at"] = rec.CreatedAt
	doc["updated_at"] = rec.UpdatedAt
	return doc
}

// Project оставляет в документе id и перечисленные поля.
func Project(doc map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	out["id"] = doc["id"]
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// RefIDs возвращает идентификаторы из значения поля-ссылки:
// строки или списка строк. Прочие значения дают nil.
func RefIDs(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// --- Приведение типов ---

func coerce(kind FieldKind, v any) (any, error) {
	switch kind {
	case KindString:
		return coerceString(v)
	case KindNumber:
		return coerceNumber(v)
	case KindStringList:
		return coerceList(v)
	case KindRef:
		s, err := coerceString(v)
		if err != nil {
			return nil, err
		}
		return coerceRef(s)
	case KindRefList:
		list, err := coerceList(v)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(list))
		for _, s := range list {
			id, err := coerceRef(s)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	case KindDate:
		return coerceDate(v)
	default:
		return nil, fmt.Errorf("неизвестный тип поля %q", kind)
	}
}

func coerceString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("ожидается строка, получено %T", v)
	}
}

func coerceNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("некорректное число %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("ожидается число, получено %T", v)
	}
}

// coerceList принимает список строк или строку с элементами через запятую.
func coerceList(v any) ([]string, error) {
	var items []string
	switch t := v.(type) {
	case []string:
		items = t
	case []any:
		for _, it := range t {
			s, err := coerceString(it)
			if err != nil {
				return nil, err
			}
			items = append(items, s)
		}
	case string:
		items = strings.Split(t, ",")
	default:
		return nil, fmt.Errorf("ожидается список строк, получено %T", v)
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func coerceRef(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("некорректный идентификатор %q", s)
	}
	return id.String(), nil
}

func coerceDate(v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339), nil
			}
		}
		return "", fmt.Errorf("некорректная дата %q", t)
	default:
		return "", fmt.Errorf("ожидается дата, получено %T", v)
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []string:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
