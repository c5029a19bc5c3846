package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/medic/arbiter/pkg/models"
	"github.com/medic/arbiter/pkg/redact"
)

const maxBlockTextLength = 2900

var outcomeEmoji = map[models.Outcome]string{
	models.OutcomeDeny:          ":no_entry_sign:",
	models.OutcomePendingReview: ":hourglass:",
}

var outcomeLabel = map[models.Outcome]string{
	models.OutcomeDeny:          "Resurrection Denied",
	models.OutcomePendingReview: "Resurrection Pending Review",
}

// BuildDecisionMessage builds Block Kit blocks for a Deny or PendingReview
// decision on a kill report.
func BuildDecisionMessage(d models.Decision, kr models.KillReport) []goslack.Block {
	emoji := outcomeEmoji[d.Outcome]
	if emoji == "" {
		emoji = ":question:"
	}
	label := outcomeLabel[d.Outcome]
	if label == "" {
		label = string(d.Outcome)
	}

	headerText := fmt.Sprintf("%s *%s* — `%s`", emoji, label, kr.TargetModule)
	detail := fmt.Sprintf("risk=%.2f confidence=%.2f level=%s\nkill_id: %s",
		d.RiskScore, d.Confidence, d.RiskLevel, kr.KillID)
	if len(d.Reasoning) > 0 {
		detail += "\n" + truncate(joinReasoning(d.Reasoning))
	}
	if len(kr.Evidence) > 0 {
		detail += "\nevidence: " + truncate(joinReasoning(redact.Slice(kr.Evidence)))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(detail), false, false),
			nil, nil,
		),
	}
}

// BuildCalibrationMessage builds Block Kit blocks for a threshold change.
func BuildCalibrationMessage(oldThreshold, newThreshold, accuracy float64, sampleSize int) []goslack.Block {
	direction := "raised"
	if newThreshold < oldThreshold {
		direction = "lowered"
	}
	text := fmt.Sprintf(":gear: *Auto-approve confidence threshold %s*\n%.2f -> %.2f (accuracy=%.3f over %d samples)",
		direction, oldThreshold, newThreshold, accuracy, sampleSize)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func joinReasoning(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
