package usecase

import (
	"strings"

	"outreach-agent/internal/domain"
)

// maxReplyRunes bounds how much of an inbound reply is quoted into a prompt.
const maxReplyRunes = 500

// Prompts holds the campaign's generation instructions. Followups[i] drives
// follow-up i+1; steps past the end reuse the last entry. Templates accept
// {{name}}, {{email}} and {{reply}}.
type Prompts struct {
	System    string
	Opening   string
	Followups []string
}

func DefaultPrompts() Prompts {
	return Prompts{
		System: strings.Join([]string{
			"Role:",
			"You write short, friendly outreach emails on behalf of the mailbox owner.",
			"",
			"Behavior Rules:",
			behaviorRules(),
		}, "\n"),
		Opening: "Write a short welcome email to {{name}} ({{email}}) introducing yourself and asking how they heard about us.",
		Followups: []string{
			"{{name}} ({{email}}) replied to our welcome email: '{{reply}}' Write a follow-up that acknowledges their answer and asks about their background and interests.",
			"{{name}} replied again: '{{reply}}' Write a more engaging follow-up that builds on the conversation so far.",
			"{{name}} replied: '{{reply}}' Write a closing email that thanks them, ends the conversation politely and invites them to reach out anytime.",
		},
	}
}

// WithDefaults fills empty fields from DefaultPrompts.
func (p Prompts) WithDefaults() Prompts {
	def := DefaultPrompts()
	if strings.TrimSpace(p.System) == "" {
		p.System = def.System
	}
	if strings.TrimSpace(p.Opening) == "" {
		p.Opening = def.Opening
	}
	if len(p.Followups) == 0 {
		p.Followups = def.Followups
	}
	return p
}

func (p Prompts) opening(r domain.Recipient) string {
	return renderPrompt(p.Opening, r, "")
}

// followup returns the prompt for follow-up number n (1-based).
func (p Prompts) followup(n int, r domain.Recipient, reply string) string {
	if len(p.Followups) == 0 {
		return renderPrompt("Write a follow-up email to {{email}}.", r, reply)
	}
	idx := n - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Followups) {
		idx = len(p.Followups) - 1
	}
	return renderPrompt(p.Followups[idx], r, reply)
}

func renderPrompt(tmpl string, r domain.Recipient, reply string) string {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = "there"
	}
	return strings.NewReplacer(
		"{{name}}", name,
		"{{email}}", r.Email,
		"{{reply}}", truncateRunes(normalizePromptInput(reply), maxReplyRunes),
	).Replace(tmpl)
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Write only the email body: no subject line and no signature placeholders.",
		"2) Keep it under 150 words and in plain text.",
		"3) Respond to what the recipient actually said.",
		"4) Never invent facts about the recipient.",
	}, "\n")
}

// historyFromThread maps thread messages to chat turns: messages sent from
// ownAddress become assistant turns, everything else user turns.
func historyFromThread(thread []domain.InboundMessage, ownAddress string) []domain.ChatMessage {
	own := strings.ToLower(strings.TrimSpace(ownAddress))
	out := make([]domain.ChatMessage, 0, len(thread))
	for _, m := range thread {
		body := strings.TrimSpace(m.Body)
		if body == "" {
			continue
		}
		role := domain.RoleUser
		if own != "" && strings.Contains(strings.ToLower(m.From), own) {
			role = domain.RoleAssistant
		}
		out = append(out, domain.ChatMessage{Role: role, Content: body})
	}
	return out
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
