// Package vocab corrects misheard domain terms in transcripts.
//
// Each window of words in a transcript is compared against a fixed list of
// terms with the same number of words. A window matches a term when every
// word shares a Double Metaphone code with the corresponding term word and
// the Jaro-Winkler similarity of the two phrases reaches the phonetic
// threshold. Windows without phonetic agreement can still match on string
// similarity alone when they reach the stricter fuzzy threshold.
package vocab

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minWordLen is the shortest single word considered for correction.
	minWordLen = 3
)

// Correction records one substitution.
type Correction struct {
	// Original is the phrase as transcribed, without surrounding punctuation.
	Original string `json:"original"`

	// Corrected is the configured term that replaced it.
	Corrected string `json:"corrected"`

	// Confidence is the Jaro-Winkler similarity in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum similarity for a phonetically
// aligned phrase. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity for a phrase with no
// phonetic alignment. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

type term struct {
	text  string
	lower string
	words []string
	codes []map[string]struct{}
}

// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New prepares a Corrector for terms. Blank terms are ignored.
func New(terms []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		lower := strings.ToLower(t)
		words := strings.Fields(lower)
		tm := term{text: t, lower: strings.Join(words, " "), words: words}
		for _, w := range words {
			tm.codes = append(tm.codes, codes(w))
		}
		c.terms = append(c.terms, tm)
		c.maxWords = max(c.maxWords, len(words))
	}
	return c
}

// Len returns the number of usable terms.
func (c *Corrector) Len() int { return len(c.terms) }

// Match returns the term most similar to phrase among the terms with the
// same word count. When matched is false, corrected is phrase and
// confidence is 0.
func (c *Corrector) Match(phrase string) (corrected string, confidence float64, matched bool) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) == 0 || len(c.terms) == 0 {
		return phrase, 0, false
	}
	if t, score, ok := c.match(words); ok {
		return t.text, score, true
	}
	return phrase, 0, false
}

func (c *Corrector) match(words []string) (term, float64, bool) {
	if len(words) == 1 && len([]rune(words[0])) < minWordLen {
		return term{}, 0, false
	}
	full := strings.Join(words, " ")
	wordCodes := make([]map[string]struct{}, len(words))
	for i, w := range words {
		wordCodes[i] = codes(w)
	}

	var (
		best         term
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range c.terms {
		if len(t.words) != len(words) {
			continue
		}
		score := similarity(full, t.lower, words, t.words)
		if aligned(wordCodes, t.codes) {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
		} else if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore, best.text != ""
}

// Correct replaces misheard terms in text. Longer terms take precedence
// over shorter ones starting at the same word. Punctuation around a
// replaced phrase is kept. Words already spelled exactly like their term
// are left alone and not reported.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.terms) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}
	cores := make([]string, len(tokens))
	for i, tok := range tokens {
		cores[i] = strings.TrimFunc(tok, isPunct)
	}

	var (
		out         []string
		corrections []Correction
		changed     bool
	)
	for i := 0; i < len(tokens); {
		n := min(c.maxWords, len(tokens)-i)
		consumed := 0
		for ; n >= 1; n-- {
			window := cores[i : i+n]
			if hasEmpty(window) {
				continue
			}
			t, score, ok := c.match(strings.Fields(strings.ToLower(strings.Join(window, " "))))
			if !ok {
				continue
			}
			original := strings.Join(window, " ")
			first, last := tokens[i], tokens[i+n-1]
			prefix := first[:strings.Index(first, window[0])]
			suffix := last[strings.LastIndex(last, window[n-1])+len(window[n-1]):]
			out = append(out, prefix+t.text+suffix)
			if original != t.text {
				corrections = append(corrections, Correction{Original: original, Corrected: t.text, Confidence: score})
				changed = true
			}
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	if !changed {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// codes returns the non-empty Double Metaphone codes of w.
func codes(w string) map[string]struct{} {
	set := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(w)
	if p != "" {
		set[p] = struct{}{}
	}
	if s != "" {
		set[s] = struct{}{}
	}
	return set
}

// aligned reports whether every word shares a code with the term word at
// the same position.
func aligned(a, b []map[string]struct{}) bool {
	for i := range a {
		if !overlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

func overlap(a, b map[string]struct{}) bool {
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

// similarity is the better Jaro-Winkler score of the spaced and the
// concatenated forms.
func similarity(full, termFull string, words, termWords []string) float64 {
	score := matchr.JaroWinkler(full, termFull, false)
	if len(words) > 1 {
		if s := matchr.JaroWinkler(strings.Join(words, ""), strings.Join(termWords, ""), false); s > score {
			score = s
		}
	}
	return score
}

func isPunct(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func hasEmpty(words []string) bool {
	for _, w := range words {
		if w == "" {
			return true
		}
	}
	return false
}
