package adapters

import (
	"context"
	"fmt"
	"time"

	"orchid-tracker/internal/core/httpclient"
	"orchid-tracker/internal/features/chat/ports"

	"google.golang.org/genai"
)

const systemInstruction = "You are a helpful and friendly customer service agent for Orchid Malaysia, " +
	"a parcel logistics company. Answer questions about shipping, tracking and delivery concisely " +
	"and politely. If a customer asks about a specific shipment, ask them to use the tracking page " +
	"with their tracking number (OM followed by nine digits)."

// GeminiCompleter implements the Completer port using Google's Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter creates a Gemini-backed completer.
func NewGeminiCompleter(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		HTTPClient: httpclient.NewClient(60 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiCompleter{client: client, model: model}, nil
}

// Complete sends the transcript plus prompt and returns the reply text.
func (g *GeminiCompleter) Complete(ctx context.Context, transcript []ports.Message, prompt string) (string, error) {
	contents := make([]*genai.Content, 0, len(transcript)+1)
	for _, msg := range transcript {
		var role genai.Role = genai.RoleUser
		if msg.Role == ports.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty reply")
	}
	return text, nil
}
