package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"card-ledger/api/internal/card"
)

// Cache stores successful extractions keyed by image hash and model.
type Cache interface {
	Find(ctx context.Context, imageHash, model string) (card.Record, bool, error)
	Save(ctx context.Context, imageHash, model string, rec card.Record) error
}

// Cached serves repeated photos from Cache. Failures are never cached and a
// broken cache only costs a model call.
type Cached struct {
	next  Extractor
	cache Cache
	model string
	log   *logrus.Entry

	observe func(hit bool)
}

func NewCached(next Extractor, cache Cache, model string, log *logrus.Entry) *Cached {
	return &Cached{next: next, cache: cache, model: model, log: log}
}

// OnLookup registers fn to be called with the result of every cache lookup
// that did not fail.
func (c *Cached) OnLookup(fn func(hit bool)) *Cached {
	c.observe = fn
	return c
}

func (c *Cached) Extract(ctx context.Context, image []byte) (card.Record, error) {
	hash := ImageHash(image)
	cached, ok, err := c.cache.Find(ctx, hash, c.model)
	switch {
	case err != nil:
		c.warn(err, hash, "extraction cache lookup failed")
	case ok:
		c.lookup(true)
		if c.log != nil {
			c.log.WithField("image_hash", hash).Debug("extraction cache hit")
		}
		return cached, nil
	default:
		c.lookup(false)
	}

	rec, err := c.next.Extract(ctx, image)
	if err != nil {
		return card.Record{}, err
	}
	if err := c.cache.Save(ctx, hash, c.model, rec); err != nil {
		c.warn(err, hash, "extraction cache save failed")
	}
	return rec, nil
}

func (c *Cached) lookup(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

func (c *Cached) warn(err error, hash, msg string) {
	if c.log == nil {
		return
	}
	c.log.WithError(err).WithField("image_hash", hash).Warn(msg)
}

// ImageHash is the hex SHA-256 of the image bytes.
func ImageHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
