package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"safestep/pkg/tracker"
	"safestep/pkg/tts"
)

const providerName = "gemini-tts"

// ContentGenerator runs one generateContent call. The llm/gemini client
// satisfies it, so text and speech share a single genai client.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements tts.Provider against the Gemini speech model.
// Audio comes back as PCM16 inline data.
type Provider struct {
	gen     ContentGenerator
	model   string
	tracker *tracker.Tracker
}

// NewProvider creates a Gemini speech provider.
func NewProvider(gen ContentGenerator, model string, t *tracker.Tracker) *Provider {
	return &Provider{gen: gen, model: model, tracker: t}
}

// Name implements tts.Provider.
func (p *Provider) Name() string {
	return providerName
}

// Synthesize requests speech for text in the given prebuilt voice.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Payload, error) {
	if p.gen == nil {
		return nil, errors.New("gemini speech client not configured")
	}
	if voice == "" {
		voice = GeminiVoices[0].Name
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := p.gen.GenerateContent(ctx, p.model, genai.Text(text), cfg)
	if err != nil {
		p.track(false)
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &tts.StatusError{StatusCode: apiErr.Code, Message: apiErr.Message}
		}
		return nil, err
	}

	payload, err := extractSpeech(resp)
	if err != nil {
		p.track(false)
		return nil, err
	}
	p.track(true)
	return payload, nil
}

func extractSpeech(resp *genai.GenerateContentResponse) (*tts.Payload, error) {
	if resp == nil {
		return nil, tts.ErrNoAudio
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return nil, fmt.Errorf("speech blocked: %s", fb.BlockReason)
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &tts.Payload{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
			}
		}
	}
	return nil, tts.ErrNoAudio
}

func (p *Provider) track(ok bool) {
	if p.tracker == nil {
		return
	}
	if ok {
		p.tracker.TrackAPISuccess(providerName)
	} else {
		p.tracker.TrackAPIFailure(providerName)
	}
}

// Voices returns the prebuilt Gemini voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, len(GeminiVoices))
	copy(out, GeminiVoices)
	return out, nil
}
