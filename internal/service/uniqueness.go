// uniqueness.go — проверка уникальности отличительного поля записи.
// Сравнение без учёта регистра и с учётом локали (collation хранилища
// и пакет collation дают одинаковый результат).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/collation"
	"github.com/bigkaa/goartstore/catalog-module/internal/repository"
)

// UniquenessGuard — проверка дубликатов имени в пределах коллекции.
type UniquenessGuard struct {
	store  repository.RecordStore
	logger *slog.Logger
}

// NewUniquenessGuard создаёт проверку уникальности.
func NewUniquenessGuard(store repository.RecordStore, logger *slog.Logger) *UniquenessGuard {
	return &UniquenessGuard{
		store:  store,
		logger: logger.With(slog.String("component", "uniqueness_guard")),
	}
}

// CheckUnique сообщает, существует ли в коллекции другая запись с именем,
// равным candidate без учёта регистра. excludeID исключает саму
// обновляемую запись. Пустое имя дубликатом не считается.
func (g *UniquenessGuard) CheckUnique(ctx context.Context, collection, candidate, excludeID string) (bool, error) {
	candidate = collation.Normalize(candidate)
	if candidate == "" {
		return false, nil
	}

	existing, err := g.store.FindOneCaseInsensitive(ctx, collection, repository.NameField, candidate, excludeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: проверка уникальности: %w", ErrInfrastructure, err) //nolint:errorlint // намеренный двойной wrap
	}

	g.logger.Debug("Найден дубликат имени",
		slog.String("collection", collection),
		slog.String("candidate", candidate),
		slog.String("existing_id", existing.ID),
	)
	return true, nil
}
