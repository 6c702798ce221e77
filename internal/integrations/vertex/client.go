package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"outreach-agent/internal/domain"
)

const DefaultModel = "gemini-2.5-flash"

// contentGenerator is the slice of genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client generates email bodies with Gemini on Vertex AI.
type Client struct {
	models      contentGenerator
	model       string
	temperature float32
	topP        float32
	maxTokens   int32
}

type Config struct {
	Project  string
	Location string
	Model    string
}

// New builds a Vertex AI backed client using application default credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Project) == "" || strings.TrimSpace(cfg.Location) == "" {
		return nil, errors.New("vertex: project and location must be set")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}
	return newClient(gc.Models, cfg.Model)
}

func newClient(models contentGenerator, model string) (*Client, error) {
	if models == nil {
		return nil, errors.New("vertex: models must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{models: models, model: model, temperature: 0.7, topP: 0.9, maxTokens: 1024}, nil
}

// Generate maps system turns to the system instruction, assistant turns to
// the model role and appends prompt as the final user turn.
func (c *Client) Generate(ctx context.Context, prompt string, history []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("vertex: prompt must not be empty")
	}

	var system []string
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	temp, topP := c.temperature, c.topP
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		TopP:            &topP,
		MaxOutputTokens: c.maxTokens,
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	res, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("vertex: generate content: %w", err)
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return "", errors.New("vertex: empty response")
	}
	return text, nil
}
