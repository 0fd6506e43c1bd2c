// records.go — жизненный цикл записей коллекций.
// Create/Update/Delete синхронизируют документ записи в хранилище записей
// с её ассетами во внешнем хранилище ассетов. Общей транзакции у двух
// хранилищ нет: последовательность «загрузка, затем фиксация» и
// «удаление старых ассетов после фиксации» оставляет в худшем случае
// осиротевшие ассеты, которые логируются и считаются метрикой.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/catalog-module/internal/assetstore"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/collation"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/repository"
)

// Prometheus-метрики жизненного цикла записей.
var (
	recordOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_record_operations_total",
		Help: "Количество операций над записями по коллекциям и результату.",
	}, []string{"collection", "operation", "result"})
	orphanedAssetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_orphaned_assets_total",
		Help: "Количество ассетов, загруженных без сохранённой записи.",
	}, []string{"collection"})
	assetReleaseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_asset_release_failures_total",
		Help: "Количество неудачных освобождений ассетов после обновления или удаления.",
	}, []string{"collection"})
)

// AssetStore — хранилище бинарных ассетов записей.
// Реализуется *assetstore.Client.
type AssetStore interface {
	Upload(ctx context.Context, att model.Attachment, suggestedID string) (*assetstore.UploadResult, error)
	DeleteMany(ctx context.Context, externalIDs []string) error
}

// ListResult — страница записей коллекции.
type ListResult struct {
	Items   []*model.Record
	Total   int
	HasMore bool
}

// RecordService — сервис жизненного цикла записей.
type RecordService struct {
	store   repository.RecordStore
	assets  AssetStore
	guard   *UniquenessGuard
	cascade *CascadeCoordinator
	cache   *CacheService
	logger  *slog.Logger
	newID   func() string
}

// NewRecordService создаёт сервис записей.
// cache может быть nil — тогда чтение идёт напрямую в хранилище.
func NewRecordService(
	store repository.RecordStore,
	assets AssetStore,
	guard *UniquenessGuard,
	cascade *CascadeCoordinator,
	cache *CacheService,
	logger *slog.Logger,
) *RecordService {
	return &RecordService{
		store:   store,
		assets:  assets,
		guard:   guard,
		cascade: cascade,
		cache:   cache,
		logger:  logger.With(slog.String("component", "record_service")),
		newID:   uuid.NewString,
	}
}

// Collection возвращает схему коллекции или ErrUnknownCollection.
func (s *RecordService) Collection(name string) (*model.Collection, error) {
	coll, ok := model.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return coll, nil
}

// Create создаёт запись: проверка уникальности имени, параллельная
// загрузка вложений, сохранение документа со ссылками на ассеты.
// Частично заполненная запись не сохраняется никогда.
func (s *RecordService) Create(ctx context.Context, collection string, input map[string]any, attachments []model.Attachment) (*model.Record, error) {
	// Операция не прерывается при отмене запроса клиентом.
	ctx = context.WithoutCancel(ctx)

	coll, err := s.Collection(collection)
	if err != nil {
		return nil, err
	}

	rec, err := s.prepareCreate(coll, input, attachments)
	if err != nil {
		s.countOp(coll.Name, "create", err)
		return nil, err
	}

	if err := s.checkName(ctx, coll, rec.Name, ""); err != nil {
		s.countOp(coll.Name, "create", err)
		return nil, err
	}

	refs, err := s.uploadAll(ctx, coll, rec.ID, attachments)
	if err != nil {
		s.countOp(coll.Name, "create", err)
		return nil, err
	}
	rec.Assets = refs

	if err := s.store.Create(ctx, rec); err != nil {
		s.reportOrphans(coll.Name, rec.ID, refs, err)
		err = mapStoreError(err)
		s.countOp(coll.Name, "create", err)
		return nil, err
	}

	s.countOp(coll.Name, "create", nil)
	s.logger.Info("Запись создана",
		slog.String("collection", coll.Name),
		slog.String("id", rec.ID),
		slog.Int("assets", len(rec.Assets)),
	)
	return rec.Clone(), nil
}

// prepareCreate приводит входные данные к каноническому виду и проверяет
// запись до загрузки вложений, чтобы некорректные данные не оставляли
// осиротевших ассетов.
func (s *RecordService) prepareCreate(coll *model.Collection, input map[string]any, attachments []model.Attachment) (*model.Record, error) {
	name, fields, err := coll.Normalize(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	for k, v := range fields {
		if v == nil {
			delete(fields, k)
		}
	}
	coll.ApplyDefaults(fields)

	if err := checkAttachments(coll, attachments); err != nil {
		return nil, err
	}
	if coll.RequireAssets && len(attachments) == 0 {
		return nil, fmt.Errorf("%w: требуется хотя бы одно изображение", ErrValidation)
	}

	rec := &model.Record{
		ID:         s.newID(),
		Collection: coll.Name,
		Fields:     fields,
	}
	if name != nil {
		rec.Name = *name
	}

	probe := rec.Clone()
	probe.Assets = make([]model.AssetRef, len(attachments))
	if err := coll.Validate(probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}
	return rec, nil
}

// checkAttachments отклоняет вложения для коллекций без ассетов.
func checkAttachments(coll *model.Collection, attachments []model.Attachment) error {
	if !coll.RequireAssets && len(attachments) > 0 {
		return fmt.Errorf("%w: коллекция %q не принимает вложения", ErrValidation, coll.Name)
	}
	return nil
}

// checkName возвращает ErrDuplicate, если имя занято другой записью.
func (s *RecordService) checkName(ctx context.Context, coll *model.Collection, name, excludeID string) error {
	if coll.NameField == "" {
		return nil
	}
	dup, err := s.guard.CheckUnique(ctx, coll.Name, name, excludeID)
	if err != nil {
		return err
	}
	if dup {
		return fmt.Errorf("%w: %s %q", ErrDuplicate, coll.NameField, name)
	}
	return nil
}

// Get возвращает запись по id. Сначала проверяется кэш.
func (s *RecordService) Get(ctx context.Context, collection, id string) (*model.Record, error) {
	coll, err := s.Collection(collection)
	if err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	if s.cache == nil {
		rec, err := s.store.GetByID(ctx, coll.Name, id)
		if err != nil {
			return nil, mapStoreError(err)
		}
		return rec, nil
	}

	if rec, ok := s.cache.Get(coll.Name, id); ok {
		return rec, nil
	}

	ticket := s.cache.BeginFill(coll.Name, id)
	rec, err := s.store.GetByID(ctx, coll.Name, id)
	if err != nil {
		s.cache.CompleteFill(ticket, nil)
		return nil, mapStoreError(err)
	}
	s.cache.CompleteFill(ticket, rec)
	return rec, nil
}

// List возвращает страницу записей коллекции, новые первыми.
func (s *RecordService) List(ctx context.Context, collection string, limit, offset int) (*ListResult, error) {
	coll, err := s.Collection(collection)
	if err != nil {
		return nil, err
	}

	items, err := s.store.List(ctx, coll.Name, limit, offset)
	if err != nil {
		return nil, mapStoreError(err)
	}
	total, err := s.store.Count(ctx, coll.Name)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return &ListResult{
		Items:   items,
		Total:   total,
		HasMore: offset+len(items) < total,
	}, nil
}

// Update обновляет запись. Если переданы новые вложения, набор ассетов
// заменяется целиком: новые загружаются до фиксации, старые освобождаются
// после неё. Без вложений ассеты записи не меняются.
func (s *RecordService) Update(ctx context.Context, collection, id string, input map[string]any, attachments []model.Attachment) (*model.Record, error) {
	ctx = context.WithoutCancel(ctx)

	coll, err := s.Collection(collection)
	if err != nil {
		return nil, err
	}

	updated, replaced, err := s.update(ctx, coll, id, input, attachments)
	s.countOp(coll.Name, "update", err)
	if err != nil {
		return nil, err
	}

	if len(replaced) > 0 {
		if err := s.assets.DeleteMany(ctx, replaced); err != nil {
			assetReleaseFailuresTotal.WithLabelValues(coll.Name).Inc()
			s.logger.Warn("Не удалось освободить заменённые ассеты",
				slog.String("collection", coll.Name),
				slog.String("id", id),
				slog.Any("external_ids", replaced),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.cache != nil {
		s.cache.Delete(coll.Name, id)
	}

	s.logger.Info("Запись обновлена",
		slog.String("collection", coll.Name),
		slog.String("id", id),
		slog.Bool("assets_replaced", len(attachments) > 0),
	)
	return updated, nil
}

// update выполняет обновление и возвращает запись и id заменённых ассетов.
func (s *RecordService) update(
	ctx context.Context,
	coll *model.Collection,
	id string,
	input map[string]any,
	attachments []model.Attachment,
) (*model.Record, []string, error) {
	if err := validateID(id); err != nil {
		return nil, nil, err
	}
	if err := checkAttachments(coll, attachments); err != nil {
		return nil, nil, err
	}
	name, fields, err := coll.Normalize(input)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}

	existing, err := s.store.GetByID(ctx, coll.Name, id)
	if err != nil {
		return nil, nil, mapStoreError(err)
	}

	// Смена регистра собственного имени дубликатом не считается.
	if name != nil && !collation.Equal(*name, existing.Name) {
		if err := s.checkName(ctx, coll, *name, id); err != nil {
			return nil, nil, err
		}
	}

	patch := &model.Patch{Name: name, Fields: fields}

	probe := patch.Apply(existing)
	if len(attachments) > 0 {
		probe.Assets = make([]model.AssetRef, len(attachments))
	}
	if err := coll.Validate(probe); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	}

	var refs []model.AssetRef
	if len(attachments) > 0 {
		refs, err = s.uploadAll(ctx, coll, id, attachments)
		if err != nil {
			return nil, nil, err
		}
		patch.Assets = refs
		patch.ReplaceAssets = true
	}

	updated, err := s.store.UpdateByID(ctx, coll.Name, id, patch, coll.Validate)
	if err != nil {
		s.reportOrphans(coll.Name, id, refs, err)
		return nil, nil, mapStoreError(err)
	}

	var replaced []string
	if patch.ReplaceAssets {
		replaced = existing.ExternalIDs()
	}
	return updated, replaced, nil
}

// Delete удаляет запись. Удаление документа, освобождение ассетов и
// каскадное удаление зависимых записей выполняются параллельно.
// Возвращает снимок записи до удаления.
func (s *RecordService) Delete(ctx context.Context, collection, id string) (*model.Record, error) {
	ctx = context.WithoutCancel(ctx)

	coll, err := s.Collection(collection)
	if err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		s.countOp(coll.Name, "delete", err)
		return nil, err
	}

	snapshot, err := s.store.GetByID(ctx, coll.Name, id)
	if err != nil {
		err = mapStoreError(err)
		s.countOp(coll.Name, "delete", err)
		return nil, err
	}

	var (
		wg        sync.WaitGroup
		deleteErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		deleteErr = s.store.DeleteByID(ctx, coll.Name, id)
	}()

	if externalIDs := snapshot.ExternalIDs(); len(externalIDs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.assets.DeleteMany(ctx, externalIDs); err != nil {
				assetReleaseFailuresTotal.WithLabelValues(coll.Name).Inc()
				s.logger.Warn("Не удалось освободить ассеты удалённой записи",
					slog.String("collection", coll.Name),
					slog.String("id", id),
					slog.Any("external_ids", externalIDs),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Ошибки уже залогированы координатором.
		_ = s.cascade.CascadeDelete(ctx, coll, id)
	}()

	wg.Wait()

	if s.cache != nil {
		s.cache.Delete(coll.Name, id)
		for _, dep := range coll.Dependents {
			s.cache.DeleteCollection(dep.Collection)
		}
	}

	if deleteErr != nil {
		err = mapStoreError(deleteErr)
		s.countOp(coll.Name, "delete", err)
		return nil, err
	}

	s.countOp(coll.Name, "delete", nil)
	s.logger.Info("Запись удалена",
		slog.String("collection", coll.Name),
		slog.String("id", id),
		slog.Int("assets", len(snapshot.Assets)),
	)
	return snapshot, nil
}

// uploadAll загружает вложения параллельно и ждёт завершения всех загрузок.
// Порядок ссылок совпадает с порядком вложений. При ошибке уже загруженные
// ассеты не откатываются, а регистрируются как осиротевшие.
func (s *RecordService) uploadAll(ctx context.Context, coll *model.Collection, recordID string, attachments []model.Attachment) ([]model.AssetRef, error) {
	refs := make([]model.AssetRef, len(attachments))

	var g errgroup.Group
	for i, att := range attachments {
		g.Go(func() error {
			res, err := s.assets.Upload(ctx, att, fmt.Sprintf("%s-%d", recordID, i))
			if err != nil {
				return fmt.Errorf("вложение %q: %w", att.OriginalName, err)
			}
			refs[i] = model.AssetRef{
				ExternalID:   res.ExternalID,
				RetrievalURL: res.RetrievalURL,
				OriginalName: att.OriginalName,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		uploaded := make([]model.AssetRef, 0, len(refs))
		for _, ref := range refs {
			if ref.ExternalID != "" {
				uploaded = append(uploaded, ref)
			}
		}
		s.reportOrphans(coll.Name, recordID, uploaded, err)
		return nil, fmt.Errorf("%w: %w", ErrAssetStoreUnavailable, err) //nolint:errorlint // намеренный двойной wrap
	}
	return refs, nil
}

// reportOrphans логирует ассеты, оставшиеся без записи.
func (s *RecordService) reportOrphans(collection, recordID string, refs []model.AssetRef, cause error) {
	if len(refs) == 0 {
		return
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ExternalID)
	}
	orphanedAssetsTotal.WithLabelValues(collection).Add(float64(len(ids)))
	s.logger.Warn("Осиротевшие ассеты: запись не сохранена",
		slog.String("collection", collection),
		slog.String("id", recordID),
		slog.Any("external_ids", ids),
		slog.String("error", cause.Error()),
	)
}

// countOp увеличивает счётчик операций.
func (s *RecordService) countOp(collection, operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	recordOperationsTotal.WithLabelValues(collection, operation, result).Inc()
}

// validateID проверяет, что id — UUID.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: некорректный id %q", ErrValidation, id)
	}
	return nil
}

// mapStoreError переводит ошибки хранилища записей в ошибки сервисного слоя.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrDuplicate, err) //nolint:errorlint // намеренный двойной wrap
	case errors.Is(err, model.ErrInvalid):
		return fmt.Errorf("%w: %w", ErrValidation, err) //nolint:errorlint // намеренный двойной wrap
	default:
		return fmt.Errorf("%w: %w", ErrInfrastructure, err) //nolint:errorlint // намеренный двойной wrap
	}
}
