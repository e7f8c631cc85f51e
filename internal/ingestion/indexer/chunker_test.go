package indexer

import (
	"strings"
	"testing"
)

func TestSplitIntoChunks(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		maxChars int
		overlap  int
		want     []string
	}{
		{name: "empty", text: "   \n", maxChars: 50, want: nil},
		{name: "single", text: "One sentence.", maxChars: 50, want: []string{"One sentence."}},
		{
			name:     "groups under limit",
			text:     "Alpha one. Beta two. Gamma three.",
			maxChars: 22,
			want:     []string{"Alpha one. Beta two.", "Gamma three."},
		},
		{
			name:     "overlap carries last sentence",
			text:     "Aa. Bb. Cc. Dd.",
			maxChars: 8,
			overlap:  1,
			want:     []string{"Aa. Bb.", "Bb. Cc.", "Cc. Dd."},
		},
		{
			name:     "long sentence hard split",
			text:     strings.Repeat("x", 25),
			maxChars: 10,
			want:     []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)},
		},
		{
			name:     "overlong sentence breaks between words",
			text:     "Second sentence here.",
			maxChars: 20,
			want:     []string{"Second sentence", "here."},
		},
		{
			name:     "detached punctuation stays with a word",
			text:     "Second sentence here .",
			maxChars: 20,
			want:     []string{"Second sentence", "here ."},
		},
		{
			name:     "unbroken run keeps trailing punctuation",
			text:     strings.Repeat("x", 10) + "!!",
			maxChars: 10,
			want:     []string{strings.Repeat("x", 8), "xx!!"},
		},
		{
			name:     "sentences at the limit",
			text:     "First sentence here. Second sentence here. Third sentence here.",
			maxChars: 21,
			want:     []string{"First sentence here.", "Second sentence here.", "Third sentence here."},
		},
		{
			name:     "newlines end sentences",
			text:     "Heading\nBody text here",
			maxChars: 100,
			want:     []string{"Heading Body text here"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitIntoChunks(tc.text, tc.maxChars, tc.overlap)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d chunks %+v, want %d", len(got), got, len(tc.want))
			}
			for i, c := range got {
				if c.Index != i {
					t.Fatalf("chunk %d has index %d", i, c.Index)
				}
				if c.Text != tc.want[i] {
					t.Fatalf("chunk %d = %q, want %q", i, c.Text, tc.want[i])
				}
			}
		})
	}
}

func TestSplitIntoChunksCoversAllText(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("Sentence number ")
		b.WriteString(strings.Repeat("w", i%17))
		b.WriteString(". ")
	}
	chunks := SplitIntoChunks(b.String(), 120, 0)
	var joined []string
	for _, c := range chunks {
		if n := runeLen(c.Text); n > 120 {
			t.Fatalf("chunk %d has %d runes", c.Index, n)
		}
		if !hasWordRune([]rune(c.Text)) {
			t.Fatalf("chunk %d has no words: %q", c.Index, c.Text)
		}
		joined = append(joined, c.Text)
	}
	if got, want := strings.Join(joined, " "), strings.TrimSpace(b.String()); got != want {
		t.Fatalf("chunks do not reassemble the input")
	}
}

func TestSplitIntoChunksNeverEmitsPunctuationOnly(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here. Ok?! ... Fin."
	for maxChars := 4; maxChars <= 30; maxChars++ {
		for _, c := range SplitIntoChunks(text, maxChars, 0) {
			if runeLen(c.Text) > maxChars {
				t.Fatalf("maxChars=%d: chunk %q too long", maxChars, c.Text)
			}
			if !hasWordRune([]rune(c.Text)) && c.Text != "..." {
				t.Fatalf("maxChars=%d: punctuation-only chunk %q", maxChars, c.Text)
			}
		}
	}
}
