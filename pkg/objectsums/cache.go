package objectsums

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/umccr/cloud-checksum/pkg/sums"
	"github.com/umccr/cloud-checksum/pkg/util"

	"github.com/go-redis/redis/v8"
)

// cachingObjectSums decorates an ObjectSums, caching SumsFile() lookups
// in Redis to avoid re-fetching sidecars for repeated check runs over
// the same object set: wrap the base interface, intercept one method,
// delegate the rest.
type cachingObjectSums struct {
	base ObjectSums
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachingObjectSums wraps base so that SumsFile results are cached
// in rdb for ttl. A write through WriteSumsFile invalidates the cache
// entry rather than updating it, since the merge engine (C6) may
// rewrite a manifest in a shape the next reader should re-fetch
// rather than trust blindly.
func NewCachingObjectSums(base ObjectSums, rdb *redis.Client, ttl time.Duration) ObjectSums {
	return &cachingObjectSums{base: base, rdb: rdb, ttl: ttl}
}

func (c *cachingObjectSums) cacheKey() string {
	return "cloud-checksum:sums:" + c.base.Name()
}

func (c *cachingObjectSums) Name() string { return c.base.Name() }

func (c *cachingObjectSums) FileSize(ctx context.Context) (uint64, error) {
	return c.base.FileSize(ctx)
}

func (c *cachingObjectSums) SumsFile(ctx context.Context) (*sums.SumsFile, error) {
	key := c.cacheKey()
	if cached, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var manifest sums.SumsFile
		if jsonErr := json.Unmarshal(cached, &manifest); jsonErr == nil {
			manifest.Bindings = []string{c.base.Name()}
			return &manifest, nil
		}
	}

	manifest, err := c.base.SumsFile(ctx)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, nil
	}

	if data, err := json.Marshal(manifest); err == nil {
		// Caching is an optimization; a failure to populate it must
		// never fail the read itself.
		c.rdb.Set(ctx, key, data, c.ttl)
	}
	return manifest, nil
}

func (c *cachingObjectSums) WriteSumsFile(ctx context.Context, manifest *sums.SumsFile) error {
	if err := c.base.WriteSumsFile(ctx, manifest); err != nil {
		return util.StatusWrap(err, "writing sidecar through cache decorator")
	}
	c.rdb.Del(ctx, c.cacheKey())
	return nil
}

func (c *cachingObjectSums) Read(ctx context.Context, r *Range) (io.ReadCloser, uint64, error) {
	return c.base.Read(ctx, r)
}

func (c *cachingObjectSums) Write(ctx context.Context, src io.Reader) error {
	return c.base.Write(ctx, src)
}

func (c *cachingObjectSums) Copy(ctx context.Context, dst ObjectSums) error {
	return c.base.Copy(ctx, dst)
}
