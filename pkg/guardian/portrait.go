package guardian

import (
	"context"
	"errors"

	"safestep/pkg/llm"
	"safestep/pkg/llm/prompts"
	"safestep/pkg/model"
)

// PortraitAspect is the aspect ratio of guardian portraits.
const PortraitAspect = "1:1"

type portraitData struct {
	Voice string
	Style model.GuardianStyle
}

// Portrait renders the guardian of route in a square frame.
func (g *Generator) Portrait(ctx context.Context, route *model.RouteContext) (*llm.Image, error) {
	prompt, err := g.prompts.Render(prompts.Portrait, portraitData{Voice: route.Voice, Style: route.Style})
	if err != nil {
		return nil, err
	}

	img, err := g.llm.GenerateImage(ctx, llm.IntentPortrait, prompt, PortraitAspect)
	if err != nil {
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, errors.New("no image in response")
	}
	return img, nil
}
