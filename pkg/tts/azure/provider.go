// Package azure implements speech synthesis through the Azure Speech REST API.
package azure

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"safestep/pkg/config"
	"safestep/pkg/request"
	"safestep/pkg/tracker"
	"safestep/pkg/tts"
)

const (
	providerName  = "azure-speech"
	defaultRegion = "westeurope"
	outputFormat  = "audio-24khz-160kbitrate-mono-mp3"
	defaultVoice  = "en-US-AvaMultilingualNeural"
)

// Poster sends one POST and returns the body. request.Client.PostOnce satisfies it.
type Poster interface {
	PostOnce(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error)
}

// Provider implements tts.Provider for Azure Speech.
type Provider struct {
	poster   Poster
	key      string
	voiceMap map[string]string
	url      string
	tracker  *tracker.Tracker
}

// NewProvider creates a new Azure Speech TTS provider.
func NewProvider(p Poster, cfg config.AzureSpeechConfig, t *tracker.Tracker) *Provider {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	return &Provider{
		poster:   p,
		key:      cfg.Key,
		voiceMap: cfg.VoiceMap,
		url:      fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		tracker:  t,
	}
}

// Name implements tts.Provider.
func (p *Provider) Name() string {
	return providerName
}

// Synthesize speaks text and returns the MP3 stream.
// Guardian voice names are translated through the configured voice map.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Payload, error) {
	if p.key == "" {
		return nil, errors.New("azure speech key not configured")
	}
	voice = p.resolveVoice(voice)
	ssml := buildSSML(voice, text)

	raw, err := p.poster.PostOnce(ctx, p.url, []byte(ssml), map[string]string{
		"Ocp-Apim-Subscription-Key": p.key,
		"Content-Type":              "application/ssml+xml",
		"X-Microsoft-OutputFormat":  outputFormat,
		"User-Agent":                "SafeStep",
	})
	if err != nil {
		p.track(false)
		var he *request.HTTPError
		if errors.As(err, &he) {
			msg := he.Body
			if msg == "" {
				msg = "[empty body]"
			}
			return nil, &tts.StatusError{StatusCode: he.StatusCode, Message: msg}
		}
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	if len(raw) == 0 {
		p.track(false)
		return nil, tts.ErrNoAudio
	}

	p.track(true)
	return &tts.Payload{Data: raw, MIMEType: "audio/mpeg"}, nil
}

// Voices returns the voices of the voice map.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	if len(p.voiceMap) == 0 {
		return []tts.Voice{{ID: defaultVoice, Name: "Default Azure Voice", Language: "en-US"}}, nil
	}
	voices := make([]tts.Voice, 0, len(p.voiceMap))
	for guardian, id := range p.voiceMap {
		voices = append(voices, tts.Voice{ID: id, Name: guardian, Language: language(id)})
	}
	return voices, nil
}

func (p *Provider) resolveVoice(voice string) string {
	if v, ok := p.voiceMap[voice]; ok && v != "" {
		return v
	}
	if strings.Contains(voice, "Neural") {
		return voice
	}
	return defaultVoice
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

var (
	reTags     = regexp.MustCompile(`<[^>]*>`)
	reLangCode = regexp.MustCompile(`^[a-z]{2}-[A-Z]{2}`)
)

// buildSSML wraps plain narration text for voice. Markup in text is stripped and
// the rest escaped, so the document is always well-formed.
func buildSSML(voice, text string) string {
	var body bytes.Buffer
	_ = xml.EscapeText(&body, []byte(reTags.ReplaceAllString(text, "")))
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'><voice name='%s'>%s</voice></speak>`,
		language(voice), voice, body.String(),
	)
}

// validateSSML checks if the SSML string is well-formed XML.
func validateSSML(ssml string) error {
	decoder := xml.NewDecoder(strings.NewReader(ssml))
	for {
		_, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// language derives the locale from a voice ID like "en-GB-RyanNeural".
func language(voice string) string {
	if m := reLangCode.FindString(voice); m != "" {
		return m
	}
	return "en-US"
}
