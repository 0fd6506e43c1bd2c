package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// newTestRecord создаёт запись коллекции products с одним ассетом.
func newTestRecord(name, owner string) *model.Record {
	return &model.Record{
		ID:         uuid.New().String(),
		Collection: model.CollectionProducts,
		Name:       name,
		Fields:     map[string]any{"price": 10.0, "user": owner},
		Assets:     []model.AssetRef{{ExternalID: "asset-" + name, RetrievalURL: "http://se/" + name, OriginalName: name + ".png"}},
	}
}

// runRecordStoreContract проверяет контракт RecordStore на конкретной реализации.
// Используется как для in-memory хранилища, так и для PostgreSQL.
func runRecordStoreContract(t *testing.T, store RecordStore) {
	ctx := context.Background()
	owner := uuid.New().String()

	t.Run("CRUD", func(t *testing.T) {
		rec := newTestRecord("Chair", owner)
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
		if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
			t.Error("CreatedAt/UpdatedAt не установлены")
		}

		got, err := store.GetByID(ctx, model.CollectionProducts, rec.ID)
		if err != nil {
			t.Fatalf("GetByID() ошибка: %v", err)
		}
		if got.Name != "Chair" || got.Fields["price"] != 10.0 || len(got.Assets) != 1 {
			t.Errorf("GetByID() = %+v", got)
		}
		if got.Assets[0].ExternalID != "asset-Chair" {
			t.Errorf("Assets[0].ExternalID = %q", got.Assets[0].ExternalID)
		}

		// Запись другой коллекции с тем же id не видна
		if _, err := store.GetByID(ctx, model.CollectionTests, rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByID() в другой коллекции: error = %v, ожидали ErrNotFound", err)
		}

		if err := store.DeleteByID(ctx, model.CollectionProducts, rec.ID); err != nil {
			t.Fatalf("DeleteByID() ошибка: %v", err)
		}
		if _, err := store.GetByID(ctx, model.CollectionProducts, rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetByID() после удаления: error = %v, ожидали ErrNotFound", err)
		}
		if err := store.DeleteByID(ctx, model.CollectionProducts, rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("повторный DeleteByID(): error = %v, ожидали ErrNotFound", err)
		}
	})

	t.Run("FindOneCaseInsensitive", func(t *testing.T) {
		rec := newTestRecord("Widget", owner)
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}

		got, err := store.FindOneCaseInsensitive(ctx, model.CollectionProducts, NameField, "wIDGET", "")
		if err != nil {
			t.Fatalf("FindOneCaseInsensitive() ошибка: %v", err)
		}
		if got.ID != rec.ID {
			t.Errorf("найдена запись %s, ожидали %s", got.ID, rec.ID)
		}

		// Собственный id исключается
		_, err = store.FindOneCaseInsensitive(ctx, model.CollectionProducts, NameField, "widget", rec.ID)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("с excludeID: error = %v, ожидали ErrNotFound", err)
		}

		// Диакритика учитывается
		_, err = store.FindOneCaseInsensitive(ctx, model.CollectionProducts, NameField, "Wídget", "")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Wídget: error = %v, ожидали ErrNotFound", err)
		}
	})

	t.Run("FindByField", func(t *testing.T) {
		user := &model.Record{
			ID:         uuid.New().String(),
			Collection: model.CollectionUsers,
			Name:       "Alice",
			Fields:     map[string]any{model.FieldEmail: "Alice@Example.com", model.FieldRoles: []string{"customer"}},
			Assets:     []model.AssetRef{{ExternalID: "a"}},
		}
		if err := store.Create(ctx, user); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}

		got, err := store.FindOneCaseInsensitive(ctx, model.CollectionUsers, model.FieldEmail, "alice@example.com", "")
		if err != nil {
			t.Fatalf("FindOneCaseInsensitive(email) ошибка: %v", err)
		}
		if got.ID != user.ID {
			t.Errorf("найден пользователь %s, ожидали %s", got.ID, user.ID)
		}
		roles, ok := got.Fields[model.FieldRoles].([]string)
		if !ok || len(roles) != 1 || roles[0] != "customer" {
			t.Errorf("roles = %#v, ожидали []string{customer}", got.Fields[model.FieldRoles])
		}
	})

	t.Run("UniqueName", func(t *testing.T) {
		if err := store.Create(ctx, newTestRecord("Lamp", owner)); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
		err := store.Create(ctx, newTestRecord("LAMP", owner))
		if !errors.Is(err, ErrConflict) {
			t.Errorf("Create() дубликата: error = %v, ожидали ErrConflict", err)
		}

		// Одинаковые имена в разных коллекциях допустимы
		other := newTestRecord("Lamp", owner)
		other.Collection = model.CollectionTests
		other.Fields = nil
		if err := store.Create(ctx, other); err != nil {
			t.Errorf("Create() в другой коллекции: %v", err)
		}
	})

	t.Run("UpdateByID", func(t *testing.T) {
		rec := newTestRecord("Table", owner)
		if err := store.Create(ctx, rec); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}

		name := "Desk"
		patch := &model.Patch{
			Name:          &name,
			Fields:        map[string]any{"price": 25.0},
			Assets:        []model.AssetRef{{ExternalID: "new-1"}, {ExternalID: "new-2"}},
			ReplaceAssets: true,
		}
		var validated *model.Record
		updated, err := store.UpdateByID(ctx, model.CollectionProducts, rec.ID, patch, func(r *model.Record) error {
			validated = r
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateByID() ошибка: %v", err)
		}
		if validated == nil || validated.Name != "Desk" {
			t.Error("validate не вызван с применённым patch")
		}
		if updated.Name != "Desk" || updated.Fields["price"] != 25.0 || updated.Fields["user"] != owner {
			t.Errorf("UpdateByID() = %+v", updated)
		}
		if len(updated.Assets) != 2 || updated.Assets[0].ExternalID != "new-1" {
			t.Errorf("Assets = %+v", updated.Assets)
		}

		// Старое имя освобождено
		if err := store.Create(ctx, newTestRecord("table", owner)); err != nil {
			t.Errorf("Create() со старым именем: %v", err)
		}

		// Ошибка валидации прерывает обновление
		errInvalid := errors.New("invalid")
		_, err = store.UpdateByID(ctx, model.CollectionProducts, rec.ID, &model.Patch{Fields: map[string]any{"price": 1.0}},
			func(*model.Record) error { return errInvalid })
		if !errors.Is(err, errInvalid) {
			t.Errorf("UpdateByID() с отказом валидации: error = %v", err)
		}
		got, _ := store.GetByID(ctx, model.CollectionProducts, rec.ID)
		if got.Fields["price"] != 25.0 {
			t.Errorf("price = %v после отказа валидации, ожидали 25", got.Fields["price"])
		}

		// Переименование в занятое имя
		taken := "Chair2"
		if err := store.Create(ctx, newTestRecord(taken, owner)); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
		lower := "chair2"
		_, err = store.UpdateByID(ctx, model.CollectionProducts, rec.ID, &model.Patch{Name: &lower}, nil)
		if !errors.Is(err, ErrConflict) {
			t.Errorf("UpdateByID() в занятое имя: error = %v, ожидали ErrConflict", err)
		}

		_, err = store.UpdateByID(ctx, model.CollectionProducts, uuid.New().String(), patch, nil)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateByID() несуществующей: error = %v, ожидали ErrNotFound", err)
		}
	})

	t.Run("DeleteMany", func(t *testing.T) {
		victim := uuid.New().String()
		bystander := uuid.New().String()
		product := uuid.New().String()

		mk := func(user string, products ...string) *model.Record {
			return &model.Record{
				ID:         uuid.New().String(),
				Collection: model.CollectionTransactions,
				Fields: map[string]any{
					"user": user, "product": products,
					"status": "pending", "date": "2024-03-01T00:00:00Z",
				},
			}
		}
		records := []*model.Record{
			mk(victim, product),
			mk(victim, uuid.New().String()),
			mk(bystander, product, uuid.New().String()),
			mk(bystander, uuid.New().String()),
		}
		for _, r := range records {
			if err := store.Create(ctx, r); err != nil {
				t.Fatalf("Create() ошибка: %v", err)
			}
		}

		n, err := store.DeleteMany(ctx, model.CollectionTransactions, "user", victim)
		if err != nil {
			t.Fatalf("DeleteMany(user) ошибка: %v", err)
		}
		if n != 2 {
			t.Errorf("DeleteMany(user) = %d, ожидали 2", n)
		}

		// Внешний ключ-список
		n, err = store.DeleteMany(ctx, model.CollectionTransactions, "product", product)
		if err != nil {
			t.Fatalf("DeleteMany(product) ошибка: %v", err)
		}
		if n != 1 {
			t.Errorf("DeleteMany(product) = %d, ожидали 1", n)
		}

		if _, err := store.GetByID(ctx, model.CollectionTransactions, records[3].ID); err != nil {
			t.Errorf("посторонняя транзакция удалена: %v", err)
		}

		// Повторный вызов идемпотентен
		n, err = store.DeleteMany(ctx, model.CollectionTransactions, "user", victim)
		if err != nil || n != 0 {
			t.Errorf("повторный DeleteMany() = %d, %v; ожидали 0, nil", n, err)
		}
	})

	t.Run("ListAndCount", func(t *testing.T) {
		var ids []string
		for _, name := range []string{"first", "second", "third"} {
			rec := newTestRecord(name, owner)
			rec.Collection = model.CollectionTests
			rec.Fields = nil
			if err := store.Create(ctx, rec); err != nil {
				t.Fatalf("Create() ошибка: %v", err)
			}
			ids = append(ids, rec.ID)
		}

		count, err := store.Count(ctx, model.CollectionTests)
		if err != nil {
			t.Fatalf("Count() ошибка: %v", err)
		}
		// Плюс запись Lamp из подтеста UniqueName
		if count != 4 {
			t.Errorf("Count() = %d, ожидали 4", count)
		}

		page, err := store.List(ctx, model.CollectionTests, 2, 0)
		if err != nil {
			t.Fatalf("List() ошибка: %v", err)
		}
		if len(page) != 2 {
			t.Fatalf("len(List()) = %d, ожидали 2", len(page))
		}
		if page[0].ID != ids[2] {
			t.Errorf("List()[0] = %s, ожидали последнюю созданную %s", page[0].ID, ids[2])
		}

		empty, err := store.List(ctx, model.CollectionTests, 10, 100)
		if err != nil || len(empty) != 0 {
			t.Errorf("List() за пределами = %d, %v", len(empty), err)
		}
	})
}
