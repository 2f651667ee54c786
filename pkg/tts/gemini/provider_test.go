package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"

	"safestep/pkg/config"
	"safestep/pkg/tracker"
	"safestep/pkg/tts"
)

type fakeContent struct {
	resp *genai.GenerateContentResponse
	err  error

	model    string
	text     string
	settings *genai.GenerateContentConfig
}

func (f *fakeContent) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.settings = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.text = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func audioResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/L16;codec=pcm;rate=24000", Data: data}},
			}},
		}},
	}
}

func TestSynthesize(t *testing.T) {
	pcm := make([]byte, 480)

	tests := []struct {
		name       string
		resp       *genai.GenerateContentResponse
		err        error
		wantErr    error
		wantStatus int
	}{
		{name: "inline audio", resp: audioResponse(pcm)},
		{
			name: "no audio part",
			resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "sorry"}}},
			}}},
			wantErr: tts.ErrNoAudio,
		},
		{name: "no candidates", resp: &genai.GenerateContentResponse{}, wantErr: tts.ErrNoAudio},
		{name: "api error", err: genai.APIError{Code: 503, Message: "overloaded"}, wantStatus: 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeContent{resp: tt.resp, err: tt.err}
			tr := tracker.New()
			p := NewProvider(gen, "gemini-2.5-flash-preview-tts", tr)

			payload, err := p.Synthesize(context.Background(), "Eyes up.", "Charon")

			if gen.model != "gemini-2.5-flash-preview-tts" || gen.text != "Eyes up." {
				t.Errorf("request = %q / %q", gen.model, gen.text)
			}
			if got := gen.settings.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Charon" {
				t.Errorf("voice sent = %q", got)
			}
			if m := gen.settings.ResponseModalities; len(m) != 1 || m[0] != "AUDIO" {
				t.Errorf("modalities sent = %v", m)
			}

			switch {
			case tt.wantStatus != 0:
				var se *tts.StatusError
				if !errors.As(err, &se) || se.StatusCode != tt.wantStatus {
					t.Fatalf("expected StatusError %d, got %v", tt.wantStatus, err)
				}
				if tr.Snapshot()[providerName].APIFailures != 1 {
					t.Error("failure not tracked")
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(payload.Data) != len(pcm) || payload.MIMEType != "audio/L16;codec=pcm;rate=24000" {
					t.Errorf("unexpected payload %d bytes %q", len(payload.Data), payload.MIMEType)
				}
				if tr.Snapshot()[providerName].APISuccess != 1 {
					t.Error("success not tracked")
				}
			}
		})
	}
}

func TestSynthesize_Blocked(t *testing.T) {
	gen := &fakeContent{resp: &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	}}
	p := NewProvider(gen, "m", nil)
	if _, err := p.Synthesize(context.Background(), "x", ""); err == nil {
		t.Fatal("expected blocked prompt to fail")
	}
	if got := gen.settings.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Kore" {
		t.Errorf("default voice = %q, want Kore", got)
	}
}

func TestSynthesize_ThroughClient(t *testing.T) {
	// 0.5 s of mono PCM16 at 24 kHz
	p := NewProvider(&fakeContent{resp: audioResponse(make([]byte, 24000))}, "m", nil)
	c := tts.NewClient(p, &config.TTSConfig{SampleRate: 24000, Channels: 1})

	buf, err := c.Synthesize(context.Background(), "Hold the pace.", "Kore")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if buf.Duration() != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", buf.Duration())
	}
}

func TestSynthesize_NotConfigured(t *testing.T) {
	p := NewProvider(nil, "m", nil)
	if _, err := p.Synthesize(context.Background(), "x", "Kore"); err == nil {
		t.Error("expected error without a genai client")
	}
}

func TestVoiceByName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Puck", "Puck"},
		{"fenrir", "Fenrir"},
		{"unknown", "Kore"},
	}
	for _, tt := range tests {
		if got := VoiceByName(tt.in).Name; got != tt.want {
			t.Errorf("VoiceByName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
