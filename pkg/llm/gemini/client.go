package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"safestep/pkg/config"
	"safestep/pkg/llm"
	"safestep/pkg/tracker"
)

const providerName = "gemini"

// Client implements llm.Provider for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	apiKey      string
	modelName   string
	profiles    map[string]string // Map intent -> modelName
	tracker     *tracker.Tracker
	logPath     string

	// Segment narration temperature (base + jitter with bell curve)
	temperatureBase   float32
	temperatureJitter float32
	thinkingBudget    int32

	mu sync.RWMutex
}

// NewClient creates a new Gemini client. logPath receives the prompt history; empty disables it.
func NewClient(cfg config.LLMConfig, logPath string, t *tracker.Tracker) (*Client, error) {
	c := &Client{tracker: t, logPath: logPath}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new settings.
func (c *Client) Configure(cfg config.LLMConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = cfg.Key
	c.modelName = cfg.Model
	c.profiles = cfg.Profiles
	c.temperatureBase = cfg.Temperature
	c.temperatureJitter = cfg.TemperatureJitter
	c.thinkingBudget = cfg.PlanThinkingBudget

	if c.modelName == "" {
		c.modelName = "gemini-2.5-flash"
	}

	if c.apiKey == "" {
		c.genaiClient = nil
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client

	// Startup must survive a flaky API; a bad model fails on first use instead.
	if err := c.validateModel(context.Background()); err != nil {
		slog.Warn("Gemini model validation failed (proceeding anyway)", "error", err)
	}

	return nil
}

// Close cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genaiClient = nil
}

// HasProfile reports whether an intent has its own model.
func (c *Client) HasProfile(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.profiles[name]
	return ok && m != ""
}

// HealthCheck verifies the key is present and the default model answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client, key, model := c.genaiClient, c.apiKey, c.modelName
	c.mu.RUnlock()

	if key == "" {
		return errors.New("gemini API key not configured (set llm.key or GEMINI_API_KEY)")
	}
	if os.Getenv("TEST_MODE") != "" {
		return nil
	}
	if client == nil {
		return errors.New("gemini client not configured")
	}
	if _, err := client.Models.Get(ctx, modelPath(model), nil); err != nil {
		return fmt.Errorf("model %s unavailable: %w", model, err)
	}
	return nil
}

func (c *Client) client() (*genai.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.genaiClient == nil {
		return nil, errors.New("gemini client not configured")
	}
	return c.genaiClient, nil
}

func (c *Client) track(ok bool) {
	if c.tracker == nil {
		return
	}
	if ok {
		c.tracker.TrackAPISuccess(providerName)
	} else {
		c.tracker.TrackAPIFailure(providerName)
	}
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	client, err := c.client()
	if err != nil {
		return "", err
	}

	modelName, cfg := c.resolveModel(name)
	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("ERROR: %v", err))
		c.track(false)
		return "", fmt.Errorf("generate text error: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.track(false)
		return "", err
	}

	c.logPrompt(name, prompt, text)
	c.track(true)
	return text, nil
}

// GenerateJSON sends a prompt and unmarshals the response into the target.
func (c *Client) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	client, err := c.client()
	if err != nil {
		return err
	}

	modelName, cfg := c.resolveModel(name)
	cfg.ResponseMIMEType = "application/json"

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("ERROR: %v", err))
		c.track(false)
		return fmt.Errorf("generate json error: %w", err)
	}

	text, err := getResponseText(resp)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.track(false)
		return err
	}

	cleaned := llm.CleanJSONBlock(text)
	c.logPrompt(name, prompt, cleaned)

	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		c.track(false)
		return fmt.Errorf("failed to unmarshal JSON response: %w. Response: %s", err, cleaned)
	}

	c.track(true)
	return nil
}

// GenerateImage renders prompt and returns the first inline image of the response.
func (c *Client) GenerateImage(ctx context.Context, name, prompt, aspectRatio string) (*llm.Image, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}

	modelName, cfg := c.resolveModel(name)
	if aspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("ERROR: %v", err))
		c.track(false)
		return nil, fmt.Errorf("generate image error: %w", err)
	}

	img, err := extractImage(resp)
	if err != nil {
		c.logPrompt(name, prompt, fmt.Sprintf("IMAGE_PARSE_ERROR: %v", err))
		c.track(false)
		return nil, err
	}

	c.logPrompt(name, prompt, fmt.Sprintf("[%s, %d bytes]", img.MIMEType, len(img.Data)))
	c.track(true)
	return img, nil
}

// GenerateContent runs a raw request on the shared genai client. Speech
// synthesis uses it with its own modality and voice settings.
func (c *Client) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	return client.Models.GenerateContent(ctx, model, contents, cfg)
}

func (c *Client) logPrompt(name, prompt, response string) {
	if c.logPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return
	}

	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf("[%s] PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		timestamp, name, llm.TruncateLines(prompt, 400), llm.WordWrap(response, 80), strings.Repeat("-", 80))

	_, _ = f.WriteString(entry)
}

func getResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func extractImage(resp *genai.GenerateContentResponse) (*llm.Image, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &llm.Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
		}
	}
	return nil, fmt.Errorf("response carried no image")
}

func modelPath(name string) string {
	if strings.HasPrefix(name, "models/") {
		return name
	}
	return "models/" + name
}

// validateModel checks if the configured model is available for the API key.
func (c *Client) validateModel(ctx context.Context) error {
	_, err := c.genaiClient.Models.Get(ctx, modelPath(c.modelName), nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", c.modelName)
		return nil
	}

	slog.Warn("Gemini model validation failed, fetching available models...", "model", c.modelName, "error", err)

	page, listErr := c.genaiClient.Models.List(ctx, nil)
	if listErr != nil {
		slog.Warn("Failed to list models for recovery", "error", listErr)
		return nil
	}

	var availableModels []string
	for {
		for _, m := range page.Items {
			if strings.Contains(strings.ToLower(m.Name), "gemini") {
				availableModels = append(availableModels, m.Name)
			}
		}
		var nextErr error
		if page, nextErr = page.Next(ctx); nextErr != nil {
			if !errors.Is(nextErr, genai.ErrPageDone) {
				slog.Warn("Model listing interrupted", "error", nextErr)
			}
			break
		}
	}

	slog.Error("Configured model not found", "configured", c.modelName, "available", availableModels)
	return nil
}
