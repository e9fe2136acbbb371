// Package langdetect identifies the language of transcribed text. It is
// used to confirm the model's detected language before the router
// decides whether translation can be skipped.
package langdetect

import (
	"fmt"
	"strings"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/text/language"
)

var supported = map[string]lingua.Language{
	"en": lingua.English,
	"hu": lingua.Hungarian,
	"de": lingua.German,
	"fr": lingua.French,
	"es": lingua.Spanish,
	"it": lingua.Italian,
}

// Detector wraps a lingua detector restricted to the session's language
// pair plus a small set of common confusables, which keeps detection
// fast and avoids spurious exotic matches on short fragments.
type Detector struct {
	inner lingua.LanguageDetector
}

// New builds a detector covering at least the given language codes.
// Codes are canonicalized (e.g. "en-US" -> "en"); unknown codes are an
// error.
func New(codes ...string) (*Detector, error) {
	langs := map[lingua.Language]bool{
		lingua.English:   true,
		lingua.Hungarian: true,
	}
	for _, code := range codes {
		base, err := Canonical(code)
		if err != nil {
			return nil, err
		}
		l, ok := supported[base]
		if !ok {
			return nil, fmt.Errorf("unsupported language %q", code)
		}
		langs[l] = true
	}

	all := make([]lingua.Language, 0, len(langs))
	for l := range langs {
		all = append(all, l)
	}

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(all...).
		Build()
	return &Detector{inner: detector}, nil
}

// Detect returns the lowercase ISO 639-1 code of the detected language,
// or "" when detection is inconclusive.
func (d *Detector) Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	lang, ok := d.inner.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// Confidence returns the detector's confidence that text is in the given
// language, 0 when the code is unknown.
func (d *Detector) Confidence(text, code string) float64 {
	base, err := Canonical(code)
	if err != nil {
		return 0
	}
	l, ok := supported[base]
	if !ok {
		return 0
	}
	return d.inner.ComputeLanguageConfidence(text, l)
}

// Canonical reduces a language code to its lowercase base ("en-US" ->
// "en").
func Canonical(code string) (string, error) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("parse language %q: %w", code, err)
	}
	base, _ := tag.Base()
	return base.String(), nil
}
