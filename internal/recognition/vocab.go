// Package recognition decodes per-timestep character scores from text
// recognition models into strings.
package recognition

import (
	"sort"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
)

const (
	digits       = "0123456789"
	asciiLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	punctuation  = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	currency     = "£€¥¢฿"
)

// builtinVocabs are the named character tables accepted by ParseVocabulary.
var builtinVocabs = map[string]string{
	"digits":        digits,
	"ascii_letters": asciiLetters,
	"punctuation":   punctuation,
	"currency":      currency,
	"latin":         digits + asciiLetters + punctuation,
	"english":       digits + asciiLetters + punctuation + "°" + currency,
	"french":        digits + asciiLetters + punctuation + "°" + currency + "àâéèêëîïôùûüçÀÂÉÈÊËÎÏÔÙÛÜÇ",
	"german":        digits + asciiLetters + punctuation + "°" + currency + "äöüßÄÖÜẞ",
	"spanish":       digits + asciiLetters + punctuation + "°" + currency + "áéíóúüñÁÉÍÓÚÜÑ¡¿",
	"portuguese":    digits + asciiLetters + punctuation + "°" + currency + "áàâãéêíïóôõúüçÁÀÂÃÉÊÍÏÓÔÕÚÜÇ",
}

// Vocabulary is an ordered character table. The class index equal to Len()
// is reserved for the blank or end-of-sequence token.
type Vocabulary struct {
	chars []rune
}

// NewVocabulary creates a vocabulary from the characters of s in order.
func NewVocabulary(s string) (Vocabulary, error) {
	if s == "" {
		return Vocabulary{}, errors.NewConfigError("vocabulary is empty")
	}
	return Vocabulary{chars: []rune(s)}, nil
}

// ParseVocabulary builds a vocabulary from named tables joined with '+',
// e.g. "digits+ascii_letters+punctuation". Tables are concatenated in order.
func ParseVocabulary(expr string) (Vocabulary, error) {
	var sb strings.Builder
	for _, name := range strings.Split(expr, "+") {
		name = strings.TrimSpace(name)
		table, ok := builtinVocabs[name]
		if !ok {
			return Vocabulary{}, errors.NewConfigError("unknown vocabulary %q (known: %s)", name, strings.Join(VocabularyNames(), ", "))
		}
		sb.WriteString(table)
	}
	return NewVocabulary(sb.String())
}

// VocabularyNames lists the built-in table names.
func VocabularyNames() []string {
	names := make([]string, 0, len(builtinVocabs))
	for name := range builtinVocabs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len is the number of characters. It is also the reserved token index.
func (v Vocabulary) Len() int { return len(v.chars) }

// Char returns the character at class index i.
func (v Vocabulary) Char(i int) (rune, bool) {
	if i < 0 || i >= len(v.chars) {
		return 0, false
	}
	return v.chars[i], true
}

func (v Vocabulary) String() string { return string(v.chars) }
