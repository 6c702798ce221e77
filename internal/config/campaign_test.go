package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"outreach-agent/internal/domain"
)

const sampleCampaign = `
subject: Welcome to the community
prompts:
  system: You write short onboarding emails.
  followups:
    - "Ask {{name}} about their interests."
recipients:
  - email: jane@example.org
    name: Jane
  - email: sam@example.org
`

func TestLoadCampaign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCampaign), 0o600))

	c, err := LoadCampaign(path)
	require.NoError(t, err)
	require.Equal(t, "Welcome to the community", c.Subject)
	require.Equal(t, []domain.Recipient{
		{Email: "jane@example.org", Name: "Jane"},
		{Email: "sam@example.org"},
	}, c.DomainRecipients())

	p := c.UsecasePrompts()
	require.Equal(t, "You write short onboarding emails.", p.System)
	require.NotEmpty(t, p.Opening)
	require.Equal(t, []string{"Ask {{name}} about their interests."}, p.Followups)
}

func TestParseCampaign_AcceptsJSON(t *testing.T) {
	c, err := ParseCampaign([]byte(`{"subject":"Hi","recipients":[{"email":"a@b.co"}]}`))
	require.NoError(t, err)
	require.Equal(t, "Hi", c.Subject)
}

func TestParseCampaign_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing subject": "recipients: []\n",
		"bad email":       "subject: Hi\nrecipients:\n  - email: not-an-address\n",
		"unknown field":   "subject: Hi\nsender: me\n",
		"followup type":   "subject: Hi\nprompts:\n  followups: [1, 2]\n",
		"empty document":  "",
		"not an object":   "- a\n- b\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCampaign([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadCampaign_MissingFile(t *testing.T) {
	_, err := LoadCampaign(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read campaign")
}
