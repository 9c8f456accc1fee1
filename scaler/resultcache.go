package scaler

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/zeebo/blake3"

	"github.com/pagescaler/pagescaler/imgproc"
	"github.com/pagescaler/pagescaler/metrics"
)

// resultCache holds recently rendered transforms keyed by source identity
// and manifest.
type resultCache struct {
	items *ttlcache.Cache[string, *imgproc.Result]
}

func newResultCache(ttl time.Duration, capacity uint64) *resultCache {
	if ttl <= 0 || capacity == 0 {
		return nil
	}
	items := ttlcache.New[string, *imgproc.Result](
		ttlcache.WithTTL[string, *imgproc.Result](ttl),
		ttlcache.WithCapacity[string, *imgproc.Result](capacity),
		ttlcache.WithDisableTouchOnHit[string, *imgproc.Result](),
	)
	go items.Start()
	return &resultCache{items: items}
}

// resultKey identifies a render: the source file, its size and mtime, and
// the manifest. A changed source yields a new key.
func resultKey(srcPath string, size int64, mtime time.Time, m imgproc.Manifest) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s\x00%d@%d\x00%s", srcPath, size, mtime.UnixNano(), m.Key())
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (rc *resultCache) get(key string) (*imgproc.Result, bool) {
	if rc == nil {
		return nil, false
	}
	item := rc.items.Get(key)
	metrics.RecordResultCache(item != nil)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (rc *resultCache) set(key string, r *imgproc.Result) {
	if rc == nil {
		return
	}
	rc.items.Set(key, r, ttlcache.DefaultTTL)
}

func (rc *resultCache) len() int {
	if rc == nil {
		return 0
	}
	return rc.items.Len()
}

func (rc *resultCache) stop() {
	if rc != nil {
		rc.items.Stop()
	}
}
