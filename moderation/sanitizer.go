// Package moderation provides the text sanitizer applied to message
// bodies and channel names. Cleaning is pure and idempotent: matched
// words are replaced rune-for-rune with the mask character, so length
// and spacing are preserved and a cleaned text cleans to itself.
package moderation

import (
	"bufio"
	"bytes"
	_ "embed"
	"log/slog"
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"

	"chat-sync/errors"
)

//go:embed dict/en.txt
var dictEN []byte

//go:embed dict/ru.txt
var dictRU []byte

const DefaultMask = '*'

type Sanitizer struct {
	matcher *goahocorasick.Machine
	mask    rune
	log     *slog.Logger
}

// Report describes one Inspect pass: the cleaned text, the disallowed
// words that were found (normalized form) and the detected language.
type Report struct {
	Clean string
	Words []string
	Lang  string
}

// textMapping links a normalized searchable rune stream back to the
// positions of the original runes it was derived from.
type textMapping struct {
	normalized []rune
	origIdx    []int
}

// NewSanitizer builds the Aho-Corasick automaton over a normalized
// version of the disallowed word list.
func NewSanitizer(words []string, mask rune, log *slog.Logger) (Sanitizer, error) {
	if len(words) == 0 {
		return Sanitizer{}, errors.ErrEmptyWords
	}
	patterns := make([][]rune, len(words))
	for i, word := range words {
		patterns[i] = normalizeRunes([]rune(word))
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return Sanitizer{}, err
	}
	return Sanitizer{matcher: m, mask: mask, log: log}, nil
}

// Default builds a sanitizer over the union of the embedded English
// and Russian dictionaries. Both stay active at all times; the server
// may speak either language in the same channel.
func Default(log *slog.Logger) (Sanitizer, error) {
	words := append(readWords(dictEN), readWords(dictRU)...)
	return NewSanitizer(words, DefaultMask, log)
}

// Clean replaces every disallowed word with the mask character.
// Total over any input including the empty string.
func (s *Sanitizer) Clean(text string) string {
	return s.Inspect(text).Clean
}

// Inspect cleans like Clean and additionally reports the matched
// words and the detected language of the input, for notification and
// logging purposes only.
func (s *Sanitizer) Inspect(text string) Report {
	mapping := s.normalize(text)
	if len(mapping.normalized) == 0 {
		return Report{Clean: text}
	}

	spans := s.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return Report{Clean: text}
	}

	origRunes := []rune(text)
	var found []string
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}

		origStart := mapping.origIdx[normStart]
		origEnd := mapping.origIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = s.mask
		}
		found = append(found, string(span.Word))
	}

	info := whatlanggo.Detect(text)
	if s.log != nil && len(found) > 0 {
		s.log.Debug("Disallowed words masked",
			"count", len(found), "lang", info.Lang.Iso6391())
	}
	return Report{
		Clean: string(origRunes),
		Words: found,
		Lang:  info.Lang.Iso6391(),
	}
}

// normalize produces the searchable rune stream and the index mapping
// back into the original text.
func (s *Sanitizer) normalize(input string) textMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return textMapping{normalized: norm, origIdx: origIdx}
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet speak characters back to their
// standard alphabet counterparts before matching.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during matching. The mask
// character is noise, which is what makes Clean idempotent.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}

func readWords(raw []byte) []string {
	var words []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			words = append(words, line)
		}
	}
	return words
}
