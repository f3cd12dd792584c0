// Package phonetic implements [engine.Engine] on top of a corpus of
// pre-analysed source videos, matching sentence words against spoken source
// words with Double Metaphone phonetic encoding and Jaro-Winkler similarity.
//
// Matching proceeds per sentence word:
//
//  1. Exact match: a source word whose normalised text equals the sentence
//     word scores 1.0.
//
//  2. Phonetic match: a source word sharing a Double Metaphone code with the
//     sentence word is accepted when its Jaro-Winkler similarity reaches the
//     phonetic threshold (default 0.70).
//
//  3. Fuzzy match: without phonetic overlap, pure Jaro-Winkler similarity
//     must reach the higher fuzzy threshold (default 0.85).
//
// Each sentence word keeps its best few source words. Candidates are the
// highest-scoring combinations of those choices, best first, with equal
// scores ordered by a shuffle derived from the seed so that the same seed
// always yields the same order.
package phonetic

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/phonemix/pkg/engine"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Compile-time interface assertion.
var _ engine.Engine = (*Engine)(nil)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMaxCombos         = 16
	defaultChoicesPerWord    = 3
)

// ErrNoMatch is wrapped when a sentence word has no usable source word.
var ErrNoMatch = errors.New("phonetic: no matching source word")

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically-matched source word. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when there is no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.fuzzyThreshold = threshold
	}
}

// WithMaxCombos caps the number of candidates returned. Default: 16.
func WithMaxCombos(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCombos = n
		}
	}
}

// WithChoicesPerWord sets how many source words are kept per sentence word.
// Default: 3.
func WithChoicesPerWord(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.choicesPerWord = n
		}
	}
}

// WithManifest registers the corpus manifest file for a source URL. It may
// be given multiple times.
func WithManifest(url, path string) Option {
	return func(e *Engine) {
		e.manifests[url] = path
	}
}

// Engine is the phonetic sentence-mixing engine. It is read-only after
// construction and safe for concurrent use.
type Engine struct {
	manifests         map[string]string
	phoneticThreshold float64
	fuzzyThreshold    float64
	maxCombos         int
	choicesPerWord    int
}

// New returns an Engine configured with the supplied options.
func New(opts ...Option) *Engine {
	e := &Engine{
		manifests:         make(map[string]string),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		maxCombos:         defaultMaxCombos,
		choicesPerWord:    defaultChoicesPerWord,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// wordMatch is one scored source word for a sentence word.
type wordMatch struct {
	word  *media.Word
	score float64
}

// partial is a (possibly incomplete) combination of word choices.
type partial struct {
	words []*media.Word
	score float64
}

// ProcessSentence implements [engine.Engine]. An empty sentence yields no
// candidates. The context is checked between words; a done context returns
// an error wrapping [engine.ErrInterrupted].
func (e *Engine) ProcessSentence(ctx context.Context, sentence string, videos []*media.Video, seed int64) ([]engine.Candidate, error) {
	tokens := tokenize(sentence)
	if len(tokens) == 0 {
		return nil, nil
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(len(tokens))))
	corpus := corpusWords(videos)

	beam := []partial{{}}
	for _, tok := range tokens {
		if err := engine.Checkpoint(ctx); err != nil {
			return nil, err
		}
		choices := e.match(tok, corpus, rng)
		if len(choices) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoMatch, tok)
		}

		// Keeping the top maxCombos prefixes after every step yields the exact
		// top maxCombos complete combinations because scores are additive.
		next := make([]partial, 0, len(beam)*len(choices))
		for _, p := range beam {
			for _, c := range choices {
				words := make([]*media.Word, len(p.words), len(p.words)+1)
				copy(words, p.words)
				next = append(next, partial{words: append(words, c.word), score: p.score + c.score})
			}
		}
		rng.Shuffle(len(next), func(i, j int) { next[i], next[j] = next[j], next[i] })
		slices.SortStableFunc(next, func(a, b partial) int {
			switch {
			case a.score > b.score:
				return -1
			case a.score < b.score:
				return 1
			}
			return 0
		})
		if len(next) > e.maxCombos {
			next = next[:e.maxCombos]
		}
		beam = next
	}

	if err := engine.Checkpoint(ctx); err != nil {
		return nil, err
	}
	out := make([]engine.Candidate, 0, len(beam))
	for _, p := range beam {
		var c engine.Candidate
		for _, w := range p.words {
			c = append(c, w.Phonemes...)
		}
		out = append(out, c)
	}
	return out, nil
}

// match scores every corpus word against tok and returns the best
// choicesPerWord, best first.
func (e *Engine) match(tok string, corpus []corpusWord, rng *rand.Rand) []wordMatch {
	tokCodes := codesForToken(tok)
	var matches []wordMatch
	for _, cw := range corpus {
		if cw.text == tok {
			matches = append(matches, wordMatch{word: cw.word, score: 1})
			continue
		}
		jw := matchr.JaroWinkler(tok, cw.text, false)
		if codesOverlap(tokCodes, cw.codes) {
			if jw >= e.phoneticThreshold {
				matches = append(matches, wordMatch{word: cw.word, score: jw})
			}
		} else if jw >= e.fuzzyThreshold {
			matches = append(matches, wordMatch{word: cw.word, score: jw})
		}
	}
	rng.Shuffle(len(matches), func(i, j int) { matches[i], matches[j] = matches[j], matches[i] })
	slices.SortStableFunc(matches, func(a, b wordMatch) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if len(matches) > e.choicesPerWord {
		matches = matches[:e.choicesPerWord]
	}
	return matches
}

// corpusWord is a source word with its normalised text and phonetic codes
// precomputed.
type corpusWord struct {
	word  *media.Word
	text  string
	codes map[string]struct{}
}

// corpusWords flattens videos into matchable words. Words without phonemes
// cannot be rendered and are skipped.
func corpusWords(videos []*media.Video) []corpusWord {
	var out []corpusWord
	for _, v := range videos {
		for _, sub := range v.Subtitles {
			for _, w := range sub.Words {
				if len(w.Phonemes) == 0 {
					continue
				}
				text := normalize(w.Text)
				if text == "" {
					continue
				}
				out = append(out, corpusWord{word: w, text: text, codes: codesForToken(text)})
			}
		}
	}
	return out
}

// tokenize lower-cases s and splits it into words with punctuation removed.
func tokenize(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if t := normalize(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// codesForToken returns the Double Metaphone codes of t. Empty codes
// (produced for very short words or words without consonants) are excluded.
func codesForToken(t string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(t)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
