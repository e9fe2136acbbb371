package window

import (
	"strings"
	"time"
	"unicode"
)

// Rough speech rate used to size the overlap span in words when only the
// overlap duration is known.
const overlapWordsPerSecond = 3

// SpanWords estimates how many words the overlap region of a window can
// carry. Returns 0 when there is no overlap.
func SpanWords(overlap time.Duration) int {
	if overlap <= 0 {
		return 0
	}
	n := int(overlap.Seconds() * overlapWordsPerSecond)
	if n < 2 {
		n = 2
	}
	return n
}

// TrimOverlap removes from curr the leading words duplicated at the tail
// of prev. The duplicated region is found with longest-common-subsequence
// matching over the overlap spans, never by truncating at a fixed word
// count: word boundaries rarely align with time boundaries, so the head
// of curr may repeat the tail of prev with insertions or small
// recognition differences.
func TrimOverlap(prev, curr string, span int) string {
	if span <= 0 || prev == "" || curr == "" {
		return curr
	}

	prevWords := strings.Fields(prev)
	currWords := strings.Fields(curr)
	if len(prevWords) == 0 || len(currWords) == 0 {
		return curr
	}

	tailStart := len(prevWords) - span
	if tailStart < 0 {
		tailStart = 0
	}
	tail := prevWords[tailStart:]

	headLen := span
	if headLen > len(currWords) {
		headLen = len(currWords)
	}
	head := currWords[:headLen]

	matches := lcsPairs(normalizeWords(tail), normalizeWords(head))
	if len(matches) == 0 {
		return curr
	}

	// Ignore weak matches: a stray word shared between the spans is not
	// evidence of a duplicated boundary.
	minSpan := len(tail)
	if headLen < minSpan {
		minSpan = headLen
	}
	if len(matches)*2 < minSpan {
		return curr
	}

	cut := matches[len(matches)-1].b + 1
	if cut >= len(currWords) {
		return ""
	}
	return strings.Join(currWords[cut:], " ")
}

type matchPair struct{ a, b int }

// lcsPairs returns one longest common subsequence of a and b as index
// pairs, in increasing order.
func lcsPairs(a, b []string) []matchPair {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}

	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] != "" && a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	pairs := make([]matchPair, 0, dp[0][0])
	for i, j := 0, 0; i < n && j < m; {
		switch {
		case a[i] != "" && a[i] == b[j]:
			pairs = append(pairs, matchPair{i, j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return pairs
}

// normalizeWords lowercases and strips punctuation so "Hello," matches
// "hello". Words reduced to nothing stay as empty strings, which never
// match.
func normalizeWords(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		var b strings.Builder
		for _, r := range strings.ToLower(w) {
			if unicode.IsLetter(r) || unicode.IsNumber(r) {
				b.WriteRune(r)
			}
		}
		out[i] = b.String()
	}
	return out
}
