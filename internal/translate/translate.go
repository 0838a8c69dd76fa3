// Package translate renders scraped Japanese product text in English using a fixed rule asset.
// It is deterministic and never calls an external service; text it cannot cover is reported as
// incomplete rather than guessed.
package translate

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Result is the outcome of one translation.
type Result struct {
	Text string
	// Complete is false when Japanese script remains in Text.
	Complete bool
}

type ruleFile struct {
	Patterns []struct {
		Match   string `yaml:"match"`
		Replace string `yaml:"replace"`
	} `yaml:"patterns"`
	Replacements []struct {
		JA string `yaml:"ja"`
		EN string `yaml:"en"`
	} `yaml:"replacements"`
}

type pattern struct {
	re      *regexp.Regexp
	replace string
}

// Translator applies compiled rules. It is safe for concurrent use.
type Translator struct {
	patterns []pattern
	replacer *strings.Replacer
}

var whitespace = regexp.MustCompile(`\s+`)

// New builds a Translator from the embedded rule set.
func New() (*Translator, error) {
	return NewFromYAML(defaultRules)
}

// NewFromYAML builds a Translator from a rules document.
func NewFromYAML(data []byte) (*Translator, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("translate: parse rules: %w", err)
	}
	if len(file.Patterns) == 0 && len(file.Replacements) == 0 {
		return nil, errors.New("translate: rules are empty")
	}

	t := &Translator{}
	for i, p := range file.Patterns {
		if p.Match == "" {
			return nil, fmt.Errorf("translate: pattern %d has no match expression", i)
		}
		re, err := regexp.Compile(p.Match)
		if err != nil {
			return nil, fmt.Errorf("translate: pattern %d: %w", i, err)
		}
		t.patterns = append(t.patterns, pattern{re: re, replace: p.Replace})
	}

	pairs := make([][2]string, 0, len(file.Replacements))
	seen := make(map[string]struct{}, len(file.Replacements))
	for i, r := range file.Replacements {
		if r.JA == "" {
			return nil, fmt.Errorf("translate: replacement %d has no source text", i)
		}
		if _, dup := seen[r.JA]; dup {
			return nil, fmt.Errorf("translate: duplicate replacement for %q", r.JA)
		}
		seen[r.JA] = struct{}{}
		pairs = append(pairs, [2]string{r.JA, r.EN})
	}
	// strings.Replacer tries old strings in argument order at each position.
	sort.SliceStable(pairs, func(i, j int) bool {
		return utf8.RuneCountInString(pairs[i][0]) > utf8.RuneCountInString(pairs[j][0])
	})
	args := make([]string, 0, len(pairs)*2)
	for _, pair := range pairs {
		args = append(args, pair[0], pair[1])
	}
	t.replacer = strings.NewReplacer(args...)
	return t, nil
}

// Translate folds full-width ASCII, applies patterns then literal replacements, and collapses
// whitespace.
func (t *Translator) Translate(text string) Result {
	out := foldWidth(text)
	for _, p := range t.patterns {
		out = p.re.ReplaceAllString(out, p.replace)
	}
	out = t.replacer.Replace(out)
	out = strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
	return Result{Text: out, Complete: !ContainsJapanese(out)}
}

// ContainsJapanese reports whether s holds any kana or kanji.
func ContainsJapanese(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

// foldWidth narrows full-width ASCII letters, digits and punctuation. Kana are left alone so
// the literal rules still match them.
func foldWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '　' {
			b.WriteRune(' ')
			continue
		}
		if width.LookupRune(r).Kind() == width.EastAsianFullwidth && r >= 0xFF01 && r <= 0xFF5E {
			b.WriteRune(width.LookupRune(r).Narrow())
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
