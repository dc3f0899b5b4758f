// Package genai adapts Google's Gemini API as the insight generation
// collaborator.
package genai

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

var tracer = otel.Tracer("genai")

// Generator calls the Gemini API to produce text analyses. Callers must treat
// it as best-effort and degrade on error.
type Generator struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGenerator creates a Gemini-backed insight generator.
func NewGenerator(apiKey, model string, logger *zap.Logger) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Generator{client: client, model: model, logger: logger}, nil
}

// Generate produces a completion for prompt under the given system
// instruction.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "GenAI.Generate")
	defer span.End()

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		g.logger.Warn("genai: generation failed", zap.Error(err))
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("generate content: empty response")
	}
	return text, nil
}
