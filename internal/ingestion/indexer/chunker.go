package indexer

import (
	"regexp"
	"strings"
	"unicode"
)

type Chunk struct {
	Index int
	Text  string
}

var sentenceRe = regexp.MustCompile(`(?s)[^.!?\n]+(?:[.!?]+|\n+|$)`)

// SplitIntoChunks groups sentences into chunks of at most maxChars runes, carrying the last
// overlap sentences into the next chunk. A single sentence longer than maxChars is hard-split.
func SplitIntoChunks(text string, maxChars, overlap int) []Chunk {
	if maxChars <= 0 {
		maxChars = 1200
	}
	if overlap < 0 {
		overlap = 0
	}
	var sentences []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sentences = append(sentences, hardSplit(s, maxChars)...)
	}

	var (
		out  []Chunk
		cur  []string
		size int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, Chunk{Index: len(out), Text: strings.Join(cur, " ")})
		keep := overlap
		if keep >= len(cur) {
			keep = len(cur) - 1
		}
		cur = append([]string(nil), cur[len(cur)-keep:]...)
		size = 0
		for _, s := range cur {
			size += runeLen(s) + 1
		}
	}
	for _, s := range sentences {
		n := runeLen(s)
		if len(cur) > 0 && size+n > maxChars {
			flush()
			// Drop overlap that would not leave room for the next sentence.
			for len(cur) > 0 && size+n > maxChars {
				size -= runeLen(cur[0]) + 1
				cur = cur[1:]
			}
		}
		cur = append(cur, s)
		size += n + 1
	}
	if len(cur) > 0 {
		out = append(out, Chunk{Index: len(out), Text: strings.Join(cur, " ")})
	}
	return out
}

// hardSplit breaks an overlong sentence at word boundaries where it can. A tail holding no
// letters or digits is never emitted on its own.
func hardSplit(s string, maxChars int) []string {
	r := []rune(s)
	var out []string
	for len(r) > maxChars {
		cut, next := maxChars, maxChars
		if i := lastSpace(r[:maxChars+1]); i > 0 {
			if rest := r[i+1:]; len(rest) <= maxChars && !hasWordRune(rest) {
				if j := lastSpace(r[:i]); j > 0 {
					i = j
				}
			}
			cut, next = i, i+1
		} else if rest := r[maxChars:]; len(rest) < maxChars && !hasWordRune(rest) {
			cut, next = maxChars-len(rest), maxChars-len(rest)
		}
		if piece := strings.TrimSpace(string(r[:cut])); piece != "" {
			out = append(out, piece)
		}
		r = []rune(strings.TrimLeftFunc(string(r[next:]), unicode.IsSpace))
	}
	if tail := strings.TrimSpace(string(r)); tail != "" {
		out = append(out, tail)
	}
	return out
}

func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return -1
}

func hasWordRune(r []rune) bool {
	for _, c := range r {
		if unicode.IsLetter(c) || unicode.IsNumber(c) {
			return true
		}
	}
	return false
}

func runeLen(s string) int { return len([]rune(s)) }
