// populate.go — документы ответа со встроенными связанными записями
// (Collection.Populate): транзакция отдаётся вместе с покупателем
// и товарами, а не только их идентификаторами.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// populateConcurrency — предел параллельных чтений связанных записей.
const populateConcurrency = 8

// Documents строит документы ответа для записей коллекции и встраивает
// связанные записи по правилам coll.Populate. write выбирает набор полей
// для ответов на создание и обновление.
//
// Каждая связанная запись читается один раз на вызов (через кэш).
// Отсутствующая запись даёт null для одиночной ссылки и пропускается в списке.
func (s *RecordService) Documents(ctx context.Context, coll *model.Collection, recs []*model.Record, write bool) ([]map[string]any, error) {
	docs := make([]map[string]any, len(recs))
	for i, rec := range recs {
		docs[i] = coll.Document(rec)
	}

	for _, rule := range coll.Populate {
		target, ok := model.Lookup(rule.Collection)
		if !ok {
			return nil, fmt.Errorf("populate %s.%s: %w: %q", coll.Name, rule.Field, ErrUnknownCollection, rule.Collection)
		}
		field, _ := coll.Field(rule.Field)

		var ids []string
		for _, doc := range docs {
			ids = append(ids, model.RefIDs(doc[rule.Field])...)
		}
		resolved, err := s.resolveRefs(ctx, target, ids, rule.Fields(write))
		if err != nil {
			return nil, err
		}

		for _, doc := range docs {
			v, ok := doc[rule.Field]
			if !ok {
				continue
			}
			if field.Kind == model.KindRefList {
				embedded := make([]map[string]any, 0)
				for _, id := range model.RefIDs(v) {
					if d, ok := resolved[id]; ok {
						embedded = append(embedded, d)
					}
				}
				doc[rule.Field] = embedded
				continue
			}
			refs := model.RefIDs(v)
			if len(refs) == 0 {
				continue
			}
			if d, ok := resolved[refs[0]]; ok {
				doc[rule.Field] = d
			} else {
				doc[rule.Field] = nil
			}
		}
	}
	return docs, nil
}

// Document — Documents для одной записи.
func (s *RecordService) Document(ctx context.Context, coll *model.Collection, rec *model.Record, write bool) (map[string]any, error) {
	docs, err := s.Documents(ctx, coll, []*model.Record{rec}, write)
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// resolveRefs читает записи target по id и возвращает их документы,
// сокращённые до fields. Ненайденные записи в результат не попадают.
func (s *RecordService) resolveRefs(ctx context.Context, target *model.Collection, ids []string, fields []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	seen := make(map[string]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(populateConcurrency)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			rec, err := s.Get(gctx, target.Name, id)
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
				return nil
			}
			if err != nil {
				return err
			}
			doc := model.Project(target.Document(rec), fields)
			mu.Lock()
			out[id] = doc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
