// cascade.go — каскадное удаление зависимых записей.
// Для каждой зависимой коллекции удаляются записи, внешний ключ которых
// ссылается на владельца. Коллекции обрабатываются параллельно, ошибка
// в одной не влияет на остальные и не откатывает удаление владельца.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/repository"
)

var (
	cascadeDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_cascade_deleted_records_total",
		Help: "Количество записей, удалённых каскадно.",
	}, []string{"collection"})
	cascadeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_cascade_failures_total",
		Help: "Количество ошибок каскадного удаления по зависимым коллекциям.",
	}, []string{"collection"})
)

// CascadeCoordinator — каскадное удаление зависимых записей.
type CascadeCoordinator struct {
	store  repository.RecordStore
	logger *slog.Logger
}

// NewCascadeCoordinator создаёт координатор каскадного удаления.
func NewCascadeCoordinator(store repository.RecordStore, logger *slog.Logger) *CascadeCoordinator {
	return &CascadeCoordinator{
		store:  store,
		logger: logger.With(slog.String("component", "cascade")),
	}
}

// CascadeDelete удаляет записи всех зависимых коллекций owner, ссылающиеся
// на ownerID. Ждёт завершения всех удалений. Возвращает объединённую
// ошибку по упавшим коллекциям (только для логирования вызывающим).
//
// Каскад одноуровневый: зависимые записи зависимых коллекций не удаляются.
func (c *CascadeCoordinator) CascadeDelete(ctx context.Context, owner *model.Collection, ownerID string) error {
	if len(owner.Dependents) == 0 {
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, dep := range owner.Dependents {
		wg.Add(1)
		go func(dep model.Dependent) {
			defer wg.Done()

			n, err := c.store.DeleteMany(ctx, dep.Collection, dep.ForeignKey, ownerID)
			if err != nil {
				cascadeFailuresTotal.WithLabelValues(dep.Collection).Inc()
				c.logger.Warn("Ошибка каскадного удаления",
					slog.String("owner_collection", owner.Name),
					slog.String("owner_id", ownerID),
					slog.String("collection", dep.Collection),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s.%s: %w", dep.Collection, dep.ForeignKey, err))
				mu.Unlock()
				return
			}

			cascadeDeletedTotal.WithLabelValues(dep.Collection).Add(float64(n))
			if n > 0 {
				c.logger.Info("Зависимые записи удалены",
					slog.String("owner_collection", owner.Name),
					slog.String("owner_id", ownerID),
					slog.String("collection", dep.Collection),
					slog.Int("deleted", n),
				)
			}
		}(dep)
	}

	wg.Wait()
	return errors.Join(errs...)
}
