// cache.go — LRU-кэш записей каталога с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/methompson/met-simple-storage/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей каталога.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей каталога.",
	})
)

// CacheService — LRU-кэш записей каталога с автоматическим TTL.
// Ключ — storage name. Снимает нагрузку с каталога на горячих скачиваниях.
type CacheService struct {
	cache *expirable.LRU[string, *model.FileRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает FileRecord из кэша по storage name.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(storageName string) (*model.FileRecord, bool) {
	val, ok := c.cache.Get(storageName)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(storageName string, record *model.FileRecord) {
	c.cache.Add(storageName, record)
}

// Delete удаляет запись из кэша (инвалидация при удалении файла).
func (c *CacheService) Delete(storageName string) {
	c.cache.Remove(storageName)
}
