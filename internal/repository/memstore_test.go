package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

func TestMemoryStore_Contract(t *testing.T) {
	runRecordStoreContract(t, NewMemoryStore())
}

// Изменение возвращённой записи не должно затрагивать хранилище.
func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := newTestRecord("Chair", uuid.New().String())
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	rec.Fields["price"] = 99.0
	rec.Assets[0].ExternalID = "mutated"

	got, _ := store.GetByID(ctx, model.CollectionProducts, rec.ID)
	got.Fields["price"] = 1.0
	got.Assets = nil

	again, _ := store.GetByID(ctx, model.CollectionProducts, rec.ID)
	if again.Fields["price"] != 10.0 {
		t.Errorf("price = %v, ожидали 10", again.Fields["price"])
	}
	if len(again.Assets) != 1 || again.Assets[0].ExternalID != "asset-Chair" {
		t.Errorf("Assets = %+v, хранилище изменено через копию", again.Assets)
	}
}

// Из конкурентных вставок одного имени успешна ровно одна.
func TestMemoryStore_ConcurrentCreateSameName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := uuid.New().String()

	const n = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Create(ctx, newTestRecord("Widget", owner))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("Create() неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Errorf("успешных = %d, конфликтов = %d; ожидали 1 и %d", ok, conflicts, n-1)
	}
}

func TestMemoryStore_DeleteFreesName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	owner := uuid.New().String()

	rec := newTestRecord("Chair", owner)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if err := store.DeleteByID(ctx, model.CollectionProducts, rec.ID); err != nil {
		t.Fatalf("DeleteByID() ошибка: %v", err)
	}
	if err := store.Create(ctx, newTestRecord("CHAIR", owner)); err != nil {
		t.Errorf("Create() после удаления: %v", err)
	}
}
