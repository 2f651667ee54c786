package llm

import (
	"context"
	"encoding/base64"
)

// Intents select a model profile and generation settings.
const (
	IntentPlan     = "plan"     // mission-beat protocol, JSON array of strings
	IntentSegment  = "segment"  // narration text for one segment
	IntentPortrait = "portrait" // guardian portrait image
)

// Provider defines the interface for interacting with LLM services.
type Provider interface {
	// GenerateText sends a prompt and returns the text response.
	GenerateText(ctx context.Context, name, prompt string) (string, error)

	// GenerateJSON sends a prompt and unmarshals the response into the target.
	GenerateJSON(ctx context.Context, name, prompt string, target any) error

	// GenerateImage renders prompt at the given aspect ratio (e.g. "1:1").
	GenerateImage(ctx context.Context, name, prompt, aspectRatio string) (*Image, error)

	// HealthCheck verifies that the provider is configured and reachable.
	HealthCheck(ctx context.Context) error

	// HasProfile checks if the provider has a specific profile configured.
	HasProfile(name string) bool
}

// Image is an encoded picture returned by a provider.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI renders the image as a data: URI.
func (i *Image) DataURI() string {
	if i == nil || len(i.Data) == 0 {
		return ""
	}
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}
