package guardian

import (
	"context"

	"safestep/pkg/llm"
	"safestep/pkg/llm/prompts"
	"safestep/pkg/model"
)

type planData struct {
	Total int
	Start string
	End   string
	Style model.GuardianStyle
}

// Plan asks for one beat per segment. It never fails: errors yield a uniform
// fallback plan and plans of the wrong length are truncated or padded.
func (g *Generator) Plan(ctx context.Context, route *model.RouteContext, total int) model.NarrationPlan {
	if total < 1 {
		total = 1
	}

	prompt, err := g.prompts.Render(prompts.Plan, planData{
		Total: total,
		Start: route.StartAddress(),
		End:   route.EndAddress(),
		Style: route.Style,
	})
	if err != nil {
		g.logger.Error("Plan prompt failed", "error", err)
		return fallbackPlan(total)
	}

	var beats []string
	if err := g.llm.GenerateJSON(ctx, llm.IntentPlan, prompt, &beats); err != nil {
		g.logger.Warn("Narration plan unavailable, using fallback", "error", err)
		return fallbackPlan(total)
	}
	if len(beats) != total {
		g.logger.Debug("Normalizing plan length", "got", len(beats), "want", total)
	}
	return normalizePlan(beats, total)
}

func fallbackPlan(total int) model.NarrationPlan {
	plan := make(model.NarrationPlan, total)
	for i := range plan {
		plan[i] = FallbackBeat
	}
	return plan
}

func normalizePlan(beats []string, total int) model.NarrationPlan {
	plan := fallbackPlan(total)
	for i := 0; i < total && i < len(beats); i++ {
		if beats[i] != "" {
			plan[i] = beats[i]
		}
	}
	return plan
}
