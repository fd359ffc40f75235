package question

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

const summaryLimit = 200

// plainText strips markup and collapses whitespace for summaries.
func plainText(s string) string {
	text := strings.Join(strings.Fields(strictPolicy.Sanitize(s)), " ")
	r := []rune(text)
	if len(r) > summaryLimit {
		return string(r[:summaryLimit-3]) + "..."
	}
	return text
}

// normalize casefolds and drops punctuation and extra spaces.
func normalize(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r):
		default:
			if space && len(out) > 0 {
				out = append(out, ' ')
			}
			space = false
			out = append(out, unicode.ToLower(r))
		}
	}
	return string(out)
}

// levenshtein is the edit distance with unit costs.
func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	n, m := len(ar), len(br)
	if n == 0 {
		return m
	}
	if m == 0 {
		return n
	}
	dp := make([]int, m+1)
	for j := range dp {
		dp[j] = j
	}
	for i := 1; i <= n; i++ {
		prev := dp[0]
		dp[0] = i
		for j := 1; j <= m; j++ {
			tmp := dp[j]
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			dp[j] = min(dp[j]+1, dp[j-1]+1, prev+cost)
			prev = tmp
		}
	}
	return dp[m]
}

// wildcardMatch compares a response with an answer pattern where * matches
// any run of characters.
func wildcardMatch(pattern, response string, caseSensitive bool) bool {
	pattern = strings.TrimSpace(pattern)
	response = strings.TrimSpace(response)
	if !strings.Contains(pattern, "*") {
		if caseSensitive {
			return pattern == response
		}
		return strings.EqualFold(pattern, response)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, ".*") + "$"
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return re.MatchString(response)
}

// parseFloatLoose accepts a number optionally followed by a unit.
func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
