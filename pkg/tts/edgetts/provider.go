package edgetts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"safestep/pkg/config"
	"safestep/pkg/tracker"
	"safestep/pkg/tts"
)

const (
	providerName = "edge-tts"
	outputFormat = "audio-24khz-48kbitrate-mono-mp3"
	dialAttempts = 3
)

// Provider implements tts.Provider for Microsoft Edge TTS.
// Audio arrives as MP3 frames over a websocket and is kept in memory.
type Provider struct {
	cfg     config.EdgeTTSConfig
	tracker *tracker.Tracker
	dialer  *websocket.Dialer
	now     func() time.Time
}

// NewProvider creates a new Edge TTS provider.
func NewProvider(cfg config.EdgeTTSConfig, t *tracker.Tracker) *Provider {
	return &Provider{
		cfg:     cfg,
		tracker: t,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
	}
}

// Name implements tts.Provider.
func (p *Provider) Name() string {
	return providerName
}

// Synthesize speaks text and returns the MP3 stream.
// Guardian voice names are translated through the configured voice map.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Payload, error) {
	voice = p.resolveVoice(voice)
	if voice == "" {
		return nil, fmt.Errorf("voice ID is required")
	}

	conn, err := p.dial(ctx)
	if err != nil {
		p.track(false)
		return nil, err
	}
	defer conn.Close()

	if err := p.sendConfig(conn); err != nil {
		p.track(false)
		return nil, err
	}

	requestID := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := p.sendSSML(conn, voice, text, requestID); err != nil {
		p.track(false)
		return nil, err
	}

	var buf bytes.Buffer
	if err := p.consumeResponses(ctx, conn, &buf); err != nil {
		p.track(false)
		return nil, err
	}
	if buf.Len() == 0 {
		p.track(false)
		return nil, tts.ErrNoAudio
	}

	p.track(true)
	return &tts.Payload{Data: buf.Bytes(), MIMEType: "audio/mpeg"}, nil
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

func (p *Provider) resolveVoice(voice string) string {
	if mapped, ok := p.cfg.VoiceMap[voice]; ok {
		return mapped
	}
	return voice
}

func (p *Provider) checkConfig() error {
	var missing []string
	for name, v := range map[string]string{
		"base_url":             p.cfg.BaseURL,
		"origin":               p.cfg.Origin,
		"user_agent":           p.cfg.UserAgent,
		"trusted_client_token": p.cfg.TrustedClientToken,
		"sec_ms_gec_version":   p.cfg.GECVersion,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("edge tts is not configured, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	if err := p.checkConfig(); err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Origin", p.cfg.Origin)
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("User-Agent", p.cfg.UserAgent)
	header.Set("Accept-Language", "en-US,en;q=0.9")
	header.Set("Cookie", "muid="+strings.ReplaceAll(uuid.New().String(), "-", ""))

	url := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		p.cfg.BaseURL, p.cfg.TrustedClientToken, p.generateSecMSGec(), p.cfg.GECVersion)

	var dialErr error
	for i := 0; i < dialAttempts; i++ {
		conn, resp, err := p.dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		dialErr = err
		if resp != nil {
			slog.Warn("EdgeTTS: handshake rejected", "status_code", resp.StatusCode)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("websocket dial failed after %d attempts: %w", dialAttempts, dialErr)
}

// generateSecMSGec derives the rolling handshake token: Windows file-time ticks
// rounded down to five minutes, concatenated with the client token and hashed.
func (p *Provider) generateSecMSGec() string {
	ticks := p.now().Unix() + 11644473600
	ticks -= ticks % 300
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d0000000%s", ticks, p.cfg.TrustedClientToken)))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func (p *Provider) sendConfig(conn *websocket.Conn) error {
	msg := "Content-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + outputFormat + `"}}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send speech.config: %w", err)
	}
	return nil
}

func (p *Provider) sendSSML(conn *websocket.Conn, voice, text, requestID string) error {
	msg := fmt.Sprintf("X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nPath:ssml\r\n\r\n%s", requestID, buildSSML(voice, text))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send ssml: %w", err)
	}
	return nil
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

func buildSSML(voice, text string) string {
	lang := "en-US"
	if parts := strings.SplitN(voice, "-", 3); len(parts) == 3 {
		lang = parts[0] + "-" + parts[1]
	}
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'><voice name='%s'>%s</voice></speak>",
		lang, voice, ssmlEscaper.Replace(text))
}

func (p *Provider) consumeResponses(ctx context.Context, conn *websocket.Conn, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return nil
			}
		case websocket.BinaryMessage:
			if err := handleBinaryMessage(data, w); err != nil {
				return err
			}
		}
	}
}

// handleBinaryMessage strips the big-endian length-prefixed header and writes the audio.
func handleBinaryMessage(data []byte, w io.Writer) error {
	if len(data) < 2 {
		return nil
	}
	headerLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if len(data) < 2+headerLength {
		return nil
	}
	if audio := data[2+headerLength:]; len(audio) > 0 {
		if _, err := w.Write(audio); err != nil {
			return fmt.Errorf("write audio data failed: %w", err)
		}
	}
	return nil
}

// Voices returns a list of high-quality neural voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "en-US-AvaMultilingualNeural", Name: "Ava (Multilingual)", Language: "en-US", Gender: "Female"},
		{ID: "en-US-AndrewMultilingualNeural", Name: "Andrew (Multilingual)", Language: "en-US", Gender: "Male"},
		{ID: "en-US-BrianMultilingualNeural", Name: "Brian (Multilingual)", Language: "en-US", Gender: "Male"},
		{ID: "en-GB-RyanNeural", Name: "Ryan (UK)", Language: "en-GB", Gender: "Male"},
		{ID: "en-GB-SoniaNeural", Name: "Sonia (UK)", Language: "en-GB", Gender: "Female"},
	}, nil
}
