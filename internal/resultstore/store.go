// Package resultstore persists analysis results so that re-analysing a
// sentence the engine already processed for the same seed and source set is
// a lookup rather than an engine call.
//
// Results are stored as phoneme references, never decoded media: resolving
// them against the loaded videos happens in the caller, which surfaces
// missing sources as a load failure.
package resultstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"

	"github.com/MrWong99/phonemix/pkg/media"
)

// ErrNotFound is returned by [Store.Get] when no result exists for a key.
var ErrNotFound = errors.New("resultstore: not found")

// Key identifies one analysis result.
type Key struct {
	Sentence string
	Seed     int64

	// Sources fingerprints the source URL set (see [Fingerprint]).
	Sources string
}

// Result is the ordered list of candidates, each an ordered list of
// phoneme references.
type Result [][]media.PhonemeRef

// Store is an analysis result store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the result stored under key, or an error wrapping
	// [ErrNotFound].
	Get(ctx context.Context, key Key) (Result, error)

	// Put stores res under key, replacing any previous value.
	Put(ctx context.Context, key Key, res Result) error
}

// Fingerprint returns a stable digest of a source URL set. Order and
// duplicates do not matter.
func Fingerprint(urls []string) string {
	sorted := slices.Clone(urls)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}
