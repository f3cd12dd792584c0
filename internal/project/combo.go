package project

import (
	"strconv"
	"time"

	"github.com/MrWong99/phonemix/pkg/media"
)

// ComboKey is the stable identity of a combo: the sentence it realises and
// its index in that sentence's candidate list. Keys are comparable and are
// what caches and job registries index by, so two combos produced by
// different analyses of the same sentence are interchangeable.
type ComboKey struct {
	Sentence string
	Index    int
}

// String returns a log-friendly form of the key.
func (k ComboKey) String() string {
	return strconv.Quote(k.Sentence) + "#" + strconv.Itoa(k.Index)
}

// Combo is one ordered phoneme sequence chosen for a sentence. Phonemes are
// references into the loaded source videos, not copies.
//
// A Combo is immutable once an analysis published it; holding one after the
// owning segment was re-analysed is safe.
type Combo struct {
	Key      ComboKey
	Phonemes []*media.Phoneme
}

// Refs returns the phoneme references of the combo, in order.
func (c *Combo) Refs() []media.PhonemeRef {
	refs := make([]media.PhonemeRef, len(c.Phonemes))
	for i, ph := range c.Phonemes {
		refs[i] = ph.Ref
	}
	return refs
}

// Duration returns the summed duration of the combo's phonemes.
func (c *Combo) Duration() time.Duration {
	var d time.Duration
	for _, ph := range c.Phonemes {
		d += ph.Duration()
	}
	return d
}
