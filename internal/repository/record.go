package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// recordRepo — реализация RecordStore поверх PostgreSQL.
// Все коллекции хранятся в одной таблице records; отличительное поле —
// колонка name с коллацией case_insensitive, остальные поля — jsonb.
type recordRepo struct {
	db DBTX
	tx *TxRunner
}

// NewRecordRepository создаёт PostgreSQL-хранилище записей.
func NewRecordRepository(db DBTX, tx *TxRunner) RecordStore {
	return &recordRepo{db: db, tx: tx}
}

const recordColumns = `id, collection, name, fields, assets, created_at, updated_at`

// scanRecord сканирует строку таблицы records.
func scanRecord(row pgx.Row) (*model.Record, error) {
	rec := &model.Record{}
	var name *string
	err := row.Scan(
		&rec.ID, &rec.Collection, &name, &rec.Fields, &rec.Assets,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		rec.Name = *name
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	model.FieldsFromJSON(rec.Fields)
	return rec, nil
}

// nullableName — NULL для коллекций без отличительного поля,
// чтобы частичный уникальный индекс их не затрагивал.
func nullableName(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

func assetsOrEmpty(assets []model.AssetRef) []model.AssetRef {
	if assets == nil {
		return []model.AssetRef{}
	}
	return assets
}

func (r *recordRepo) GetByID(ctx context.Context, collection, id string) (*model.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM records
		WHERE collection = $1 AND id = $2`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, collection, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

func (r *recordRepo) FindOneCaseInsensitive(ctx context.Context, collection, field, value, excludeID string) (*model.Record, error) {
	// Отличительное поле сравнивается по колонке с коллацией,
	// остальные — по значению из jsonb под той же коллацией.
	var cond string
	args := []any{collection, value}
	if field == NameField {
		cond = `name = $2`
	} else {
		cond = `(fields->>$3) COLLATE case_insensitive = $2`
		args = append(args, field)
	}
	if excludeID != "" {
		args = append(args, excludeID)
		cond += fmt.Sprintf(` AND id <> $%d`, len(args))
	}

	query := `SELECT ` + recordColumns + `
		FROM records
		WHERE collection = $1 AND ` + cond + `
		LIMIT 1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска записи по полю %s: %w", field, err)
	}
	return rec, nil
}

func (r *recordRepo) List(ctx context.Context, collection string, limit, offset int) ([]*model.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM records
		WHERE collection = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, collection, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *recordRepo) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE collection = $1`, collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return count, nil
}

func (r *recordRepo) Create(ctx context.Context, rec *model.Record) error {
	query := `
		INSERT INTO records (id, collection, name, fields, assets)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Collection, nullableName(rec.Name), fields, assetsOrEmpty(rec.Assets),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %q уже существует", ErrConflict, rec.Collection, rec.Name)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

func (r *recordRepo) UpdateByID(ctx context.Context, collection, id string, patch *model.Patch, validate ValidateFunc) (*model.Record, error) {
	var updated *model.Record
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		selectQuery := `SELECT ` + recordColumns + `
			FROM records
			WHERE collection = $1 AND id = $2
			FOR UPDATE`

		current, err := scanRecord(tx.QueryRow(ctx, selectQuery, collection, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка блокировки записи: %w", err)
		}

		next := patch.Apply(current)
		if validate != nil {
			if err := validate(next); err != nil {
				return err
			}
		}

		updateQuery := `
			UPDATE records
			SET name = $3, fields = $4, assets = $5, updated_at = now()
			WHERE collection = $1 AND id = $2
			RETURNING ` + recordColumns

		updated, err = scanRecord(tx.QueryRow(ctx, updateQuery,
			collection, id, nullableName(next.Name), next.Fields, assetsOrEmpty(next.Assets),
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s %q уже существует", ErrConflict, collection, next.Name)
			}
			return fmt.Errorf("ошибка обновления записи: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *recordRepo) DeleteByID(ctx context.Context, collection, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepo) DeleteMany(ctx context.Context, collection, foreignKey, value string) (int, error) {
	// Внешний ключ хранится скаляром (user) или списком (product):
	// оба варианта покрываются containment-запросом по GIN-индексу.
	query := `
		DELETE FROM records
		WHERE collection = $1
		  AND (fields @> jsonb_build_object($2::text, $3::text)
		    OR fields @> jsonb_build_object($2::text, jsonb_build_array($3::text)))`

	tag, err := r.db.Exec(ctx, query, collection, foreignKey, value)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления записей %s по %s: %w", collection, foreignKey, err)
	}
	return int(tag.RowsAffected()), nil
}
