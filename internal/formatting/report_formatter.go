package formatting

import (
	"regexp"
	"strings"
)

var bracketIndexRe = regexp.MustCompile(`\[(\d{1,3})\]`)

// FormatCritiqueFeedback ensures a Critic's free-text feedback ends in a
// complete "## Suggestions" section listing every suggestion, not just the
// ones the feedback body happens to reference inline as [1], [2]. It:
//  1. Removes any existing "## Suggestions" section from feedback
//  2. Appends a rebuilt section from suggestions, each line tagged
//     "referenced above" when the feedback body cites its index inline
//
// Adapted from a report formatter that did the same thing for citations
// in a research synthesis; a Critic's suggestion list plays the same role
// a Sources section did there.
func FormatCritiqueFeedback(feedback string, suggestions []string) string {
	body := strings.TrimSpace(feedback)
	if body == "" {
		return feedback
	}

	referenced := map[int]bool{}
	for _, m := range bracketIndexRe.FindAllStringSubmatch(body, -1) {
		if n := parseBracketIndex(m); n > 0 {
			referenced[n] = true
		}
	}

	cut := body
	lower := strings.ToLower(body)
	if idx := strings.LastIndex(lower, strings.ToLower("## Suggestions")); idx != -1 {
		cut = strings.TrimSpace(body[:idx])
	}

	if len(suggestions) == 0 {
		return cut
	}

	rebuilt := make([]string, 0, len(suggestions))
	for i, s := range suggestions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		label := "suggested"
		if referenced[i+1] {
			label = "referenced above"
		}
		rebuilt = append(rebuilt, strings.TrimSpace(stripOrdinal(s))+" - "+label)
	}

	var b strings.Builder
	if cut != "" {
		b.WriteString(strings.TrimRight(cut, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("## Suggestions\n")
	b.WriteString(strings.Join(rebuilt, "\n"))
	return b.String()
}

func parseBracketIndex(m []string) int {
	if len(m) != 2 {
		return 0
	}
	n := 0
	for i := 0; i < len(m[1]); i++ {
		n = n*10 + int(m[1][i]-'0')
	}
	return n
}

// stripOrdinal removes a leading "[n] " marker a suggestion may already
// carry, so rebuilding doesn't double it up.
func stripOrdinal(s string) string {
	if m := bracketIndexRe.FindStringIndex(s); m != nil && m[0] == 0 {
		return strings.TrimSpace(s[m[1]:])
	}
	return s
}
