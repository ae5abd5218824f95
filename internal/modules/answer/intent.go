package answer

import (
	"regexp"
	"strings"

	"github.com/danutirta/tanyadata-backend/internal/config"
)

var sqlShapedRe = regexp.MustCompile(`(?i)\bselect\b.+\bfrom\b|\bshow\b.+\b(data|table|tabel)\b|\btampilkan\b.+\bdata\b`)

// ClassifyIntent labels a message without any model call. The label is
// observational: downstream stages run regardless, the intent feeds metrics
// and the planner prompt.
func ClassifyIntent(message string, cfg config.Intent) IntentResult {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return IntentResult{Intent: IntentGeneralConversation, Confidence: 0.5}
	}

	if len(msg) < 50 {
		for _, g := range cfg.Greetings {
			if msg == g || strings.HasPrefix(msg, g+" ") || strings.HasPrefix(msg, g+",") {
				return IntentResult{Intent: IntentGeneralConversation, Confidence: 0.95}
			}
		}
	}

	for _, q := range cfg.QuestionWords {
		if strings.HasPrefix(msg, q+" ") || msg == q {
			return IntentResult{Intent: IntentDataQuery, Confidence: 0.98}
		}
	}

	for _, kw := range cfg.DomainKeywords {
		if strings.Contains(msg, kw) {
			return IntentResult{Intent: IntentDataQuery, Confidence: 0.9}
		}
	}

	if sqlShapedRe.MatchString(msg) {
		return IntentResult{Intent: IntentDataQuery, Confidence: 0.9}
	}

	// Short and indicator-free reads as small talk; anything longer is worth
	// attempting retrieval for rather than refusing.
	if len(msg) < 20 {
		return IntentResult{Intent: IntentGeneralConversation, Confidence: 0.7}
	}
	return IntentResult{Intent: IntentDataQuery, Confidence: 0.6}
}
