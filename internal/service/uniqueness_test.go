package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
	"github.com/bigkaa/goartstore/catalog-module/internal/repository"
)

func TestUniquenessGuard_CheckUnique(t *testing.T) {
	store := repository.NewMemoryStore()
	existing := &model.Record{ID: "11111111-1111-1111-1111-111111111111", Collection: model.CollectionTests, Name: "Caf\u00e9 Chair"}
	if err := store.Create(context.Background(), existing); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	guard := NewUniquenessGuard(store, testLogger())

	tests := []struct {
		name       string
		collection string
		candidate  string
		excludeID  string
		want       bool
	}{
		{"точное совпадение", model.CollectionTests, "Caf\u00e9 Chair", "", true},
		{"другой регистр", model.CollectionTests, "CAF\u00c9 CHAIR", "", true},
		{"разложенная форма", model.CollectionTests, "cafe\u0301 chair", "", true},
		{"пробелы по краям", model.CollectionTests, "  caf\u00e9 chair ", "", true},
		{"другое имя", model.CollectionTests, "Cafe Table", "", false},
		{"исключение самой записи", model.CollectionTests, "caf\u00e9 chair", existing.ID, false},
		{"другая коллекция", model.CollectionProducts, "Caf\u00e9 Chair", "", false},
		{"пустое имя", model.CollectionTests, "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.CheckUnique(context.Background(), tt.collection, tt.candidate, tt.excludeID)
			if err != nil {
				t.Fatalf("CheckUnique() ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckUnique(%q) = %v, ожидается %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestUniquenessGuard_StoreError(t *testing.T) {
	store := &faultyStore{
		RecordStore: repository.NewMemoryStore(),
		findErr:     errors.New("connection refused"),
	}
	guard := NewUniquenessGuard(store, testLogger())

	_, err := guard.CheckUnique(context.Background(), model.CollectionTests, "Chair", "")
	if !errors.Is(err, ErrInfrastructure) {
		t.Errorf("CheckUnique() error = %v, ожидается ErrInfrastructure", err)
	}
}
