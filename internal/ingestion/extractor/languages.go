package extractor

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LanguageRules maps filename tokens to ISO 639-2 language codes.
type LanguageRules struct {
	Default []string          `yaml:"default"`
	Aliases map[string]string `yaml:"aliases"`

	re *regexp.Regexp
}

func DefaultLanguageRules() *LanguageRules {
	r := &LanguageRules{
		Default: []string{"eng", "hun"},
		Aliases: map[string]string{
			"hun": "hun", "magyar": "hun",
			"eng": "eng", "english": "eng",
			"ces": "ces", "czech": "ces",
			"slk": "slk", "slovak": "slk",
			"pol": "pol", "polish": "pol",
			"deu": "deu", "german": "deu",
			"fra": "fra", "french": "fra",
			"spa": "spa", "spanish": "spa",
			"ita": "ita", "italian": "ita",
			"ron": "ron", "romanian": "ron",
		},
	}
	r.compile()
	return r
}

// LoadLanguageRules reads a YAML overlay on top of the defaults, e.g.
//
//	default: eng+deu
//	aliases:
//	  deutsch: deu
func LoadLanguageRules(path string) (*LanguageRules, error) {
	rules := DefaultLanguageRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language rules: %w", err)
	}
	var raw struct {
		Default string            `yaml:"default"`
		Aliases map[string]string `yaml:"aliases"`
	}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse language rules %s: %w", path, err)
	}
	if d := ParseLanguages(raw.Default); len(d) > 0 {
		rules.Default = d
	}
	for k, v := range raw.Aliases {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.TrimSpace(v))
		if k != "" && v != "" {
			rules.Aliases[k] = v
		}
	}
	rules.compile()
	return rules, nil
}

func (r *LanguageRules) compile() {
	keys := make([]string, 0, len(r.Aliases))
	for k := range r.Aliases {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	// Longest first so "english" wins over "eng".
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) == len(keys[j]) {
			return keys[i] < keys[j]
		}
		return len(keys[i]) > len(keys[j])
	})
	r.re = regexp.MustCompile(`[_\-](` + strings.Join(keys, "|") + `)[_\-.]`)
}

// Detect returns the language hint for a file path: an explicit token such as "_hun." or
// "-polish_" wins, otherwise the default set.
func (r *LanguageRules) Detect(path string) []string {
	if r.re != nil {
		if m := r.re.FindStringSubmatch(strings.ToLower(path)); m != nil {
			return []string{r.Aliases[m[1]]}
		}
	}
	return append([]string(nil), r.Default...)
}

// ParseLanguages splits "eng+hun" or "eng,hun".
func ParseLanguages(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' || r == ' ' }) {
		out = append(out, strings.ToLower(f))
	}
	return out
}

var iso6392ToBCP47 = map[string]string{
	"eng": "en", "hun": "hu", "ces": "cs", "slk": "sk", "pol": "pl",
	"deu": "de", "fra": "fr", "spa": "es", "ita": "it", "ron": "ro",
}

// BCP47 converts ISO 639-2 codes to the tags Google OCR APIs accept. Unknown codes pass through.
func BCP47(langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if t, ok := iso6392ToBCP47[l]; ok {
			out = append(out, t)
		} else if l != "" {
			out = append(out, l)
		}
	}
	return out
}
