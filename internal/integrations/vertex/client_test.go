package vertex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"outreach-agent/internal/domain"
)

type fakeModels struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	text     string
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText(f.text, genai.RoleModel),
	}}}, nil
}

func TestNew_RequiresProjectAndLocation(t *testing.T) {
	_, err := New(context.Background(), Config{Project: "p"})
	require.ErrorContains(t, err, "project and location")
}

func TestNewClient_DefaultModel(t *testing.T) {
	c, err := newClient(&fakeModels{}, " ")
	require.NoError(t, err)
	require.Equal(t, DefaultModel, c.model)

	_, err = newClient(nil, "")
	require.Error(t, err)
}

func TestGenerate_MapsRoles(t *testing.T) {
	fm := &fakeModels{text: "  Great to hear from you!  "}
	c, err := newClient(fm, "gemini-test")
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), "Write a follow-up.", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Be brief."},
		{Role: domain.RoleAssistant, Content: "Welcome!"},
		{Role: domain.RoleUser, Content: "Thanks"},
	})
	require.NoError(t, err)
	require.Equal(t, "Great to hear from you!", out)
	require.Equal(t, "gemini-test", fm.model)

	require.Len(t, fm.contents, 3)
	require.Equal(t, string(genai.RoleModel), fm.contents[0].Role)
	require.Equal(t, "Welcome!", fm.contents[0].Parts[0].Text)
	require.Equal(t, "Write a follow-up.", fm.contents[2].Parts[0].Text)

	require.NotNil(t, fm.config.SystemInstruction)
	require.Equal(t, "Be brief.", fm.config.SystemInstruction.Parts[0].Text)
}

func TestGenerate_Errors(t *testing.T) {
	c, err := newClient(&fakeModels{err: errors.New("quota")}, "")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "hi", nil)
	require.ErrorContains(t, err, "quota")

	_, err = c.Generate(context.Background(), " ", nil)
	require.ErrorContains(t, err, "prompt")

	c, err = newClient(&fakeModels{text: ""}, "")
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "hi", nil)
	require.ErrorContains(t, err, "empty")
}
