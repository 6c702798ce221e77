package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"outreach-agent/internal/domain"
	"outreach-agent/internal/usecase"
)

//go:embed campaign.schema.json
var campaignSchemaJSON []byte

const campaignSchemaURL = "campaign.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Campaign is the YAML file describing what the agent says and to whom.
type Campaign struct {
	Subject    string          `yaml:"subject"`
	Prompts    CampaignPrompts `yaml:"prompts"`
	Recipients []Recipient     `yaml:"recipients"`
}

type CampaignPrompts struct {
	System    string   `yaml:"system"`
	Opening   string   `yaml:"opening"`
	Followups []string `yaml:"followups"`
}

type Recipient struct {
	Email string `yaml:"email"`
	Name  string `yaml:"name"`
}

// UsecasePrompts returns the prompts with defaults filled in.
func (c Campaign) UsecasePrompts() usecase.Prompts {
	return usecase.Prompts{
		System:    c.Prompts.System,
		Opening:   c.Prompts.Opening,
		Followups: c.Prompts.Followups,
	}.WithDefaults()
}

func (c Campaign) DomainRecipients() []domain.Recipient {
	out := make([]domain.Recipient, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		out = append(out, domain.Recipient{Email: r.Email, Name: r.Name})
	}
	return out
}

// LoadCampaign reads and validates a campaign file.
func LoadCampaign(path string) (Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Campaign{}, fmt.Errorf("config: read campaign: %w", err)
	}
	return ParseCampaign(data)
}

// ParseCampaign validates YAML (or JSON) against the campaign schema and
// decodes it.
func ParseCampaign(data []byte) (Campaign, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Campaign{}, fmt.Errorf("config: parse campaign: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return Campaign{}, fmt.Errorf("config: parse campaign: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(asJSON))
	if err != nil {
		return Campaign{}, fmt.Errorf("config: parse campaign: %w", err)
	}
	sch, err := campaignSchema()
	if err != nil {
		return Campaign{}, err
	}
	if err := sch.Validate(inst); err != nil {
		return Campaign{}, fmt.Errorf("config: invalid campaign: %w", err)
	}

	var c Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Campaign{}, fmt.Errorf("config: decode campaign: %w", err)
	}
	return c, nil
}

func campaignSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(campaignSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("config: load campaign schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(campaignSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("config: load campaign schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(campaignSchemaURL)
	})
	return schema, schemaErr
}
