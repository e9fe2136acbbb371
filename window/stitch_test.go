package window

import (
	"testing"
	"time"
)

func TestTrimOverlap(t *testing.T) {
	tests := []struct {
		name string
		prev string
		curr string
		span int
		want string
	}{
		{
			name: "identical overlap span",
			prev: "the quick brown fox jumps",
			curr: "fox jumps over the lazy dog",
			span: 2,
			want: "over the lazy dog",
		},
		{
			name: "punctuation and case differ",
			prev: "I went to the store,",
			curr: "The store. And bought milk",
			span: 2,
			want: "And bought milk",
		},
		{
			name: "no shared words",
			prev: "completely different ending",
			curr: "a fresh new sentence",
			span: 3,
			want: "a fresh new sentence",
		},
		{
			name: "single stray word is not an overlap",
			prev: "we talked about the weather",
			curr: "about nine tomorrow morning we leave",
			span: 4,
			want: "about nine tomorrow morning we leave",
		},
		{
			name: "overlap with small recognition difference",
			prev: "she said hello to everyone",
			curr: "said hello too everyone and smiled",
			span: 4,
			want: "and smiled",
		},
		{
			name: "current fully contained in overlap",
			prev: "see you tomorrow",
			curr: "you tomorrow",
			span: 2,
			want: "",
		},
		{
			name: "zero span keeps text",
			prev: "anything at all",
			curr: "anything at all",
			span: 0,
			want: "anything at all",
		},
		{
			name: "empty previous keeps text",
			prev: "",
			curr: "first window text",
			span: 3,
			want: "first window text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimOverlap(tt.prev, tt.curr, tt.span)
			if got != tt.want {
				t.Errorf("TrimOverlap(%q, %q, %d) = %q, want %q",
					tt.prev, tt.curr, tt.span, got, tt.want)
			}
		})
	}
}

func TestTrimOverlapNeverDuplicatesIdenticalSpans(t *testing.T) {
	// Property: when the trailing span of the previous text and the
	// leading span of the current text are identical, no word of that
	// span survives in the stitched output.
	prev := "alpha beta gamma delta epsilon"
	curr := "delta epsilon zeta eta theta"
	span := 2

	got := TrimOverlap(prev, curr, span)
	if got != "zeta eta theta" {
		t.Fatalf("got %q, want %q", got, "zeta eta theta")
	}
}

func TestSpanWords(t *testing.T) {
	tests := []struct {
		overlap time.Duration
		want    int
	}{
		{0, 0},
		{-time.Second, 0},
		{200 * time.Millisecond, 2}, // floor of 2
		{time.Second, 3},
		{2 * time.Second, 6},
	}

	for _, tt := range tests {
		if got := SpanWords(tt.overlap); got != tt.want {
			t.Errorf("SpanWords(%v) = %d, want %d", tt.overlap, got, tt.want)
		}
	}
}
