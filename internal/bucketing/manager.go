package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"registration-service/internal/config"
)

// BucketingManager spreads audit partitions with murmur3 so a single busy
// subject cannot create a hot partition.
type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return newManager(cfg.Bucketing.EventBuckets)
}

func newManager(eventBuckets int) *BucketingManager {
	if eventBuckets <= 0 {
		eventBuckets = 1
	}
	bm := &BucketingManager{eventBuckets: eventBuckets}
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// GetEventBucket returns a stable bucket in [0, eventBuckets) for a subject.
func (bm *BucketingManager) GetEventBucket(subject string) int {
	return bm.getBucket(subject, bm.eventBuckets)
}

// GetDateBucket returns the UTC day of t as YYYY-MM-DD.
func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	h := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(h)

	h.Reset()
	h.Write([]byte(key))
	return int(h.Sum64() % uint64(numBuckets))
}
