package gemini

import (
	"strings"

	"safestep/pkg/tts"
)

// GeminiVoices lists the prebuilt speech voices. Guardians use Kore, Puck, Charon and Fenrir.
var GeminiVoices = []tts.Voice{
	{ID: "kore", Name: "Kore", Language: "multi", Gender: "Female", Style: "Calm, soothing, gentle, relaxed, soft"},
	{ID: "puck", Name: "Puck", Language: "multi", Gender: "Male", Style: "Playful, energetic, animated, upbeat"},
	{ID: "charon", Name: "Charon", Language: "multi", Gender: "Male", Style: "Deep, trustworthy, smooth, steady"},
	{ID: "fenrir", Name: "Fenrir", Language: "multi", Gender: "Male", Style: "Resonant, intense, strong, excitable"},
	{ID: "aoede", Name: "Aoede", Language: "multi", Gender: "Female", Style: "Professional, capable, clear, composed"},
	{ID: "zephyr", Name: "Zephyr", Language: "multi", Gender: "Female", Style: "Energetic, bright, youthful"},
	{ID: "leda", Name: "Leda", Language: "multi", Gender: "Female", Style: "Authoritative, formal, direct"},
	{ID: "orus", Name: "Orus", Language: "multi", Gender: "Male", Style: "Balanced, neutral, firm"},
}

// VoiceByName returns the voice with the given name (case-insensitive), or the first voice.
func VoiceByName(name string) tts.Voice {
	for _, v := range GeminiVoices {
		if strings.EqualFold(v.Name, name) || strings.EqualFold(v.ID, name) {
			return v
		}
	}
	return GeminiVoices[0]
}
