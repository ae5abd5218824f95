package answer

import (
	"context"
	"strings"
)

const apologyMessage = "Maaf, saya sedang kesulitan memproses pertanyaan itu. Silakan coba lagi beberapa saat lagi."

// Plan asks the model for an SQL plan. Model failures and malformed output
// never escape: the result is always a well-formed plan, at worst the error
// fallback with a generic apology.
func Plan(ctx context.Context, deps Deps, q Query, schemaContext, ragContext string) SQLPlan {
	if deps.AI == nil {
		return fallbackPlan()
	}

	genCtx, cancel := context.WithTimeout(ctx, deps.Cfg.Timeouts.Generate)
	defer cancel()

	user := buildPlannerUserPrompt(q.RawText, schemaContext, ragContext, q.History)
	obj, err := deps.AI.GenerateJSON(genCtx, plannerSystemPrompt, user, "sql_plan", plannerSchema)
	if err != nil {
		if deps.Log != nil {
			deps.Log.Warn("planner generation failed; using fallback plan", "error", err)
		}
		return fallbackPlan()
	}

	plan, ok := parsePlan(obj)
	if !ok {
		if deps.Log != nil {
			deps.Log.Warn("planner returned malformed plan; using fallback", "raw", obj)
		}
		return fallbackPlan()
	}
	return plan
}

func fallbackPlan() SQLPlan {
	return SQLPlan{
		Status:         PlanError,
		NeedsExecution: false,
		DirectMessage:  apologyMessage,
	}
}

// parsePlan maps the model's JSON object onto the tagged plan, enforcing the
// variant rules: a success plan is either query-backed or direct, never both
// and never neither.
func parsePlan(obj map[string]any) (SQLPlan, bool) {
	status := PlanStatus(stringField(obj, "status"))
	switch status {
	case PlanSuccess, PlanOutOfContext, PlanError:
	default:
		return SQLPlan{}, false
	}

	responseType := stringField(obj, "response_type")
	query := strings.TrimSpace(stringField(obj, "query"))
	message := strings.TrimSpace(stringField(obj, "message"))
	template := strings.TrimSpace(stringField(obj, "text_template"))

	switch status {
	case PlanSuccess:
		switch responseType {
		case "data":
			if query == "" {
				return SQLPlan{}, false
			}
			return SQLPlan{
				Status:           PlanSuccess,
				NeedsExecution:   true,
				QueryText:        query,
				ResponseTemplate: template,
			}, true
		case "direct":
			if message == "" {
				return SQLPlan{}, false
			}
			return SQLPlan{
				Status:        PlanSuccess,
				DirectMessage: message,
			}, true
		default:
			return SQLPlan{}, false
		}

	case PlanOutOfContext:
		if message == "" {
			message = "Maaf, pertanyaan itu di luar cakupan data yang saya punya."
		}
		return SQLPlan{Status: PlanOutOfContext, DirectMessage: message}, true

	default: // PlanError
		if message == "" {
			message = apologyMessage
		}
		return SQLPlan{Status: PlanError, DirectMessage: message}, true
	}
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}
