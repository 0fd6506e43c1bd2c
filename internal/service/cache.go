// cache.go — LRU-кэш записей с TTL для чтения по id.
// Обёртка над hashicorp/golang-lru/v2/expirable. Инвалидируется
// при обновлении и удалении записи; чтение, которое пересеклось
// с инвалидацией, в кэш не попадает.
package service

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/catalog-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей.",
	})
)

// CacheService — LRU-кэш записей с автоматическим TTL.
// Кэш локален для экземпляра: при нескольких репликах запись, изменённая
// другой репликой, видна не позднее чем через TTL.
type CacheService struct {
	cache *expirable.LRU[string, *model.Record]

	// mu защищает fills; поколение ключа растёт при каждой инвалидации,
	// пока по нему идёт хотя бы одно чтение из хранилища.
	mu    sync.Mutex
	fills map[string]*fillState
}

type fillState struct {
	readers int
	gen     uint64
}

// FillTicket — отметка о начале чтения записи из хранилища.
// Завершается ровно одним вызовом CompleteFill.
type FillTicket struct {
	key string
	gen uint64
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{
		cache: expirable.NewLRU[string, *model.Record](maxSize, nil, ttl),
		fills: make(map[string]*fillState),
	}
}

func cacheKey(collection, id string) string {
	return collection + "/" + id
}

// Get возвращает копию записи из кэша.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(collection, id string) (*model.Record, bool) {
	val, ok := c.cache.Get(cacheKey(collection, id))
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// BeginFill регистрирует чтение записи из хранилища после cache miss.
func (c *CacheService) BeginFill(collection, id string) FillTicket {
	key := cacheKey(collection, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.fills[key]
	if !ok {
		st = &fillState{}
		c.fills[key] = st
	}
	st.readers++
	return FillTicket{key: key, gen: st.gen}
}

// CompleteFill завершает чтение. rec кладётся в кэш, только если
// с момента BeginFill запись не инвалидировалась; nil лишь снимает отметку.
func (c *CacheService) CompleteFill(t FillTicket, rec *model.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.fills[t.key]
	if !ok {
		return
	}
	if rec != nil && st.gen == t.gen {
		c.cache.Add(t.key, rec.Clone())
	}
	st.readers--
	if st.readers <= 0 {
		delete(c.fills, t.key)
	}
}

// Delete удаляет запись из кэша и отменяет заполнение
// начатыми до этого чтениями.
func (c *CacheService) Delete(collection, id string) {
	key := cacheKey(collection, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.fills[key]; ok {
		st.gen++
	}
	c.cache.Remove(key)
}

// DeleteCollection удаляет из кэша все записи коллекции.
// Используется после каскадного удаления, когда id удалённых записей неизвестны.
func (c *CacheService) DeleteCollection(collection string) {
	prefix := cacheKey(collection, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, st := range c.fills {
		if strings.HasPrefix(key, prefix) {
			st.gen++
		}
	}
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
