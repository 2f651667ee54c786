package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

const bytesPerSample = 2 // PCM16

// DecodeError reports a malformed audio payload.
type DecodeError struct {
	Op  string // "base64", "pcm", "wav", "mp3", "mime"
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio decode (%s): %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode turns a base64 payload into raw bytes.
func Decode(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, &DecodeError{Op: "base64", Err: err}
	}
	return data, nil
}

// DecodeAudioData interprets data as little-endian PCM16 at the given rate and channel count.
// The byte length must be a whole number of frames.
func DecodeAudioData(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, &DecodeError{Op: "pcm", Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}
	if channels != 1 && channels != 2 {
		return nil, &DecodeError{Op: "pcm", Err: fmt.Errorf("unsupported channel count %d", channels)}
	}
	frameSize := bytesPerSample * channels
	if len(data)%frameSize != 0 {
		return nil, &DecodeError{Op: "pcm", Err: fmt.Errorf("%d bytes is not a multiple of the %d-byte frame", len(data), frameSize)}
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: channels,
		Precision:   bytesPerSample,
	}
	return NewBuffer(format, &pcmStream{data: data, channels: channels}), nil
}

// DecodeEncoded decodes a payload according to its MIME type.
// Supported: audio/L16 and audio/pcm (rate and channels from parameters), audio/wav, audio/mpeg.
func DecodeEncoded(mimeType string, data []byte, defaultRate, defaultChannels int) (*Buffer, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil, &DecodeError{Op: "mime", Err: err}
	}

	switch strings.ToLower(mediaType) {
	case "audio/l16", "audio/pcm", "audio/raw":
		rate := paramInt(params, "rate", defaultRate)
		channels := paramInt(params, "channels", defaultChannels)
		return DecodeAudioData(data, rate, channels)
	case "audio/wav", "audio/x-wav", "audio/wave":
		s, format, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, &DecodeError{Op: "wav", Err: err}
		}
		defer s.Close()
		return NewBuffer(format, s), nil
	case "audio/mpeg", "audio/mp3":
		s, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, &DecodeError{Op: "mp3", Err: err}
		}
		defer s.Close()
		return NewBuffer(format, s), nil
	default:
		return nil, &DecodeError{Op: "mime", Err: errors.New("unsupported media type " + mediaType)}
	}
}

func paramInt(params map[string]string, key string, def int) int {
	if v, ok := params[key]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// pcmStream streams interleaved PCM16 LE frames. Mono is duplicated to both channels.
type pcmStream struct {
	data     []byte
	channels int
	pos      int // byte offset
}

func (s *pcmStream) Stream(samples [][2]float64) (n int, ok bool) {
	frameSize := bytesPerSample * s.channels
	for n < len(samples) && s.pos+frameSize <= len(s.data) {
		left := pcm16(s.data[s.pos:])
		right := left
		if s.channels == 2 {
			right = pcm16(s.data[s.pos+bytesPerSample:])
		}
		samples[n][0] = left
		samples[n][1] = right
		s.pos += frameSize
		n++
	}
	return n, n > 0
}

func (s *pcmStream) Err() error {
	return nil
}

func pcm16(b []byte) float64 {
	return float64(int16(uint16(b[0])|uint16(b[1])<<8)) / 32768.0
}
