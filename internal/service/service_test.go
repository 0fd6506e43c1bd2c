package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/catalog-module/internal/assetstore"
	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Fake хранилища ассетов ---

// fakeAssets — in-memory хранилище ассетов с инъекцией ошибок.
type fakeAssets struct {
	mu      sync.Mutex
	objects map[string]string
	seq     int
	uploads int

	// uploadErrFn — ошибка загрузки для конкретного вложения (nil — без ошибок)
	uploadErrFn func(att model.Attachment) error
	// deleteErr — ошибка DeleteMany (ассеты при этом не удаляются)
	deleteErr error
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{objects: make(map[string]string)}
}

func (f *fakeAssets) Upload(_ context.Context, att model.Attachment, suggestedID string) (*assetstore.UploadResult, error) {
	if f.uploadErrFn != nil {
		if err := f.uploadErrFn(att); err != nil {
			return nil, err
		}
	}
	data, err := io.ReadAll(att.Content)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.uploads++
	id := fmt.Sprintf("asset-%d", f.seq)
	f.objects[id] = suggestedID + ":" + string(data)
	return &assetstore.UploadResult{
		ExternalID:   id,
		RetrievalURL: "https://assets.test/" + id,
	}, nil
}

func (f *fakeAssets) DeleteMany(_ context.Context, ids []string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.objects, id)
	}
	return nil
}

func (f *fakeAssets) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[id]
	return ok
}

func (f *fakeAssets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeAssets) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// --- Хранилище записей с инъекцией ошибок ---

// faultyStore — обёртка над RecordStore, возвращающая заданные ошибки.
type faultyStore struct {
	repository.RecordStore

	findErr       error
	createErr     error
	updateErr     error
	deleteErr     error
	deleteManyErr map[string]error // collection -> ошибка
}

func (s *faultyStore) FindOneCaseInsensitive(ctx context.Context, collection, field, value, excludeID string) (*model.Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.RecordStore.FindOneCaseInsensitive(ctx, collection, field, value, excludeID)
}

func (s *faultyStore) Create(ctx context.Context, rec *model.Record) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.RecordStore.Create(ctx, rec)
}

func (s *faultyStore) UpdateByID(ctx context.Context, collection, id string, patch *model.Patch, validate repository.ValidateFunc) (*model.Record, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.RecordStore.UpdateByID(ctx, collection, id, patch, validate)
}

func (s *faultyStore) DeleteByID(ctx context.Context, collection, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.RecordStore.DeleteByID(ctx, collection, id)
}

func (s *faultyStore) DeleteMany(ctx context.Context, collection, foreignKey, value string) (int, error) {
	if err := s.deleteManyErr[collection]; err != nil {
		return 0, err
	}
	return s.RecordStore.DeleteMany(ctx, collection, foreignKey, value)
}

// pausingStore останавливает следующий GetByID после чтения записи:
// сигнализирует в read и ждёт release. Включается через armed.
type pausingStore struct {
	repository.RecordStore

	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newPausingStore(inner repository.RecordStore) *pausingStore {
	return &pausingStore{
		RecordStore: inner,
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (s *pausingStore) GetByID(ctx context.Context, collection, id string) (*model.Record, error) {
	rec, err := s.RecordStore.GetByID(ctx, collection, id)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return rec, err
}

// --- Helpers ---

// newTestRecordService создаёт RecordService поверх переданного хранилища.
func newTestRecordService(store repository.RecordStore, assets AssetStore) *RecordService {
	logger := testLogger()
	return NewRecordService(
		store,
		assets,
		NewUniquenessGuard(store, logger),
		NewCascadeCoordinator(store, logger),
		NewCacheService(100, time.Minute),
		logger,
	)
}

// attachment создаёт вложение из строки.
func attachment(name, data string) model.Attachment {
	return model.Attachment{
		OriginalName: name,
		ContentType:  "image/png",
		Size:         int64(len(data)),
		Content:      strings.NewReader(data),
	}
}

// mustCreate создаёт запись или завершает тест.
func mustCreate(t *testing.T, svc *RecordService, collection string, input map[string]any, attachments ...model.Attachment) *model.Record {
	t.Helper()
	rec, err := svc.Create(context.Background(), collection, input, attachments)
	if err != nil {
		t.Fatalf("Create(%s) ошибка: %v", collection, err)
	}
	return rec
}

// assertGone проверяет, что запись отсутствует в хранилище.
func assertGone(t *testing.T, store repository.RecordStore, collection, id string) {
	t.Helper()
	_, err := store.GetByID(context.Background(), collection, id)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("%s/%s: GetByID error = %v, ожидается ErrNotFound", collection, id, err)
	}
}
