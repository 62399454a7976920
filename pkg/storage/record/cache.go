package record

import (
	"fmt"
	"strconv"

	"github.com/dgraph-io/ristretto/v2"

	"verlock/pkg/primitives"
)

// payloadCache caches payload bytes fetched from the record log.
// Entries are keyed by (key, version), so a cached payload is immutable
// and never needs invalidation: a new write produces a new version and
// therefore a new cache key, and stale entries age out under cost
// pressure.
type payloadCache struct {
	cache *ristretto.Cache[string, []byte]
}

func newPayloadCache(maxBytes int64) (*payloadCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init payload cache: %w", err)
	}
	return &payloadCache{cache: cache}, nil
}

func cacheKey(key primitives.Key, version primitives.Version) string {
	return string(key) + "@" + strconv.FormatUint(uint64(version), 10)
}

func (pc *payloadCache) get(key primitives.Key, version primitives.Version) ([]byte, bool) {
	return pc.cache.Get(cacheKey(key, version))
}

func (pc *payloadCache) put(key primitives.Key, version primitives.Version, payload []byte) {
	pc.cache.Set(cacheKey(key, version), payload, int64(len(payload))+int64(len(key))+16)
}

func (pc *payloadCache) close() {
	pc.cache.Close()
}
