package formatting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCritiqueFeedbackAppendsAllSuggestions(t *testing.T) {
	feedback := "2/3 steps completed, 1 failed. See [1] for details."
	suggestions := []string{"retry the failed step", "add a timeout guard"}

	out := FormatCritiqueFeedback(feedback, suggestions)

	assert.Contains(t, out, "## Suggestions")
	assert.Contains(t, out, "retry the failed step - referenced above")
	assert.Contains(t, out, "add a timeout guard - suggested")
}

func TestFormatCritiqueFeedbackReplacesExistingSection(t *testing.T) {
	feedback := "all good.\n\n## Suggestions\nstale - suggested"
	out := FormatCritiqueFeedback(feedback, []string{"fresh suggestion"})

	assert.NotContains(t, out, "stale")
	assert.Contains(t, out, "fresh suggestion - suggested")
}

func TestFormatCritiqueFeedbackEmptyInputIsNoop(t *testing.T) {
	assert.Equal(t, "", FormatCritiqueFeedback("", []string{"x"}))
}
