// Пакет repository — хранилище записей коллекций.
// Реализации: PostgreSQL (чистый SQL через pgx, без ORM)
// и in-memory (CM_STORE_BACKEND=memory и unit-тесты).
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// ValidateFunc проверяет запись перед сохранением обновления.
// Ошибка прерывает обновление и возвращается вызывающему как есть.
type ValidateFunc func(rec *model.Record) error

// RecordStore — хранилище записей коллекций.
type RecordStore interface {
	// GetByID возвращает запись по UUID. ErrNotFound, если записи нет.
	GetByID(ctx context.Context, collection, id string) (*model.Record, error)
	// FindOneCaseInsensitive ищет запись, у которой поле field равно value
	// без учёта регистра. Поле "name" — отличительное поле записи.
	// excludeID (если не пуст) исключается из поиска. ErrNotFound, если совпадений нет.
	FindOneCaseInsensitive(ctx context.Context, collection, field, value, excludeID string) (*model.Record, error)
	// List возвращает записи коллекции, новые первыми.
	List(ctx context.Context, collection string, limit, offset int) ([]*model.Record, error)
	// Count возвращает количество записей коллекции.
	Count(ctx context.Context, collection string) (int, error)
	// Create сохраняет новую запись. ErrConflict при нарушении уникальности.
	// Заполняет CreatedAt и UpdatedAt.
	Create(ctx context.Context, rec *model.Record) error
	// UpdateByID атомарно применяет patch, проверяет результат validate
	// и возвращает обновлённую запись. ErrNotFound, если запись исчезла.
	UpdateByID(ctx context.Context, collection, id string, patch *model.Patch, validate ValidateFunc) (*model.Record, error)
	// DeleteByID удаляет запись. ErrNotFound, если записи нет.
	DeleteByID(ctx context.Context, collection, id string) error
	// DeleteMany удаляет все записи коллекции, у которых поле foreignKey
	// (скаляр или список) содержит value. Возвращает число удалённых.
	DeleteMany(ctx context.Context, collection, foreignKey, value string) (int, error)
}

// NameField — имя отличительного поля в FindOneCaseInsensitive.
const NameField = "name"

// DBTX — общий интерфейс *pgxpool.Pool и pgx.Tx для запросов,
// которые выполняются как внутри, так и вне транзакции.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txAttempts — сколько раз транзакция повторяется после
// serialization_failure или deadlock_detected.
const txAttempts = 3

// TxRunner выполняет функции в транзакции PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner поверх пула.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn в транзакции: коммит при nil, откат при ошибке.
// Конфликты конкурентных транзакций повторяются до txAttempts раз,
// поэтому fn не должна иметь побочных эффектов вне транзакции.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, fn)
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("транзакция не выполнена после %d попыток: %w", txAttempts, err)
}

// Коды ошибок PostgreSQL.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// isUniqueViolation — нарушение уникального индекса.
func isUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case pgSerializationFailure, pgDeadlockDetected:
		return true
	}
	return false
}
