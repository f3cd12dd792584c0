// Package framecache memoizes decoded phoneme clips so repeated previews of
// combos sharing phonemes never decode the same source slice twice.
//
// The cache is keyed by the phoneme's stable ref string and is unbounded for
// the lifetime of an editing session. Concurrent requests for a phoneme that
// is not yet cached are collapsed into a single decode.
package framecache

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Option configures a [Cache].
type Option func(*Cache)

// WithMetrics records decode counts on m. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Cache memoizes [media.Clip] values per phoneme. All exported methods are
// goroutine-safe.
type Cache struct {
	decoder media.Decoder
	fps     int
	metrics *observe.Metrics

	mu    sync.RWMutex
	clips map[string]*media.Clip

	group singleflight.Group
}

// New returns a Cache that decodes through dec at fps frames per second.
func New(dec media.Decoder, fps int, opts ...Option) *Cache {
	c := &Cache{
		decoder: dec,
		fps:     fps,
		metrics: observe.DefaultMetrics(),
		clips:   make(map[string]*media.Clip),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FPS returns the sampling rate clips are decoded at.
func (c *Cache) FPS() int { return c.fps }

// Get returns the decoded clip for ph, decoding it on first use.
//
// The decode itself is detached from ctx so that a caller giving up does not
// fail the other callers waiting on the same phoneme; the result is cached
// once it completes. Decode errors are not cached.
func (c *Cache) Get(ctx context.Context, ph *media.Phoneme) (*media.Clip, error) {
	key := ph.Ref.String()

	c.mu.RLock()
	clip, ok := c.clips[key]
	c.mu.RUnlock()
	if ok {
		return clip, nil
	}

	decodeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		c.mu.RLock()
		clip, ok := c.clips[key]
		c.mu.RUnlock()
		if ok {
			return clip, nil
		}

		clip, err := c.decoder.DecodeClip(decodeCtx, ph, c.fps)
		if err != nil {
			c.metrics.RecordFrameDecode(decodeCtx, "error")
			slog.Warn("framecache: decode failed", "phoneme", key, "err", err)
			return nil, err
		}
		c.metrics.RecordFrameDecode(decodeCtx, "ok")

		c.mu.Lock()
		c.clips[key] = clip
		c.mu.Unlock()
		return clip, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*media.Clip), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of cached phonemes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clips)
}
