package usecase

import (
	"context"
	"errors"
	"strings"

	"outreach-agent/internal/domain"
)

type Classification int

const (
	Genuine Classification = iota
	SelfEcho
	Automated
	MisRouted
	Untracked
)

func (c Classification) String() string {
	switch c {
	case Genuine:
		return "genuine"
	case SelfEcho:
		return "self_echo"
	case Automated:
		return "automated"
	case MisRouted:
		return "misrouted"
	case Untracked:
		return "untracked"
	}
	return "unknown"
}

// DefaultAutomatedPatterns match sender addresses that never get a reply.
var DefaultAutomatedPatterns = []string{"noreply", "no-reply", "mailer-daemon"}

// Classify applies the sender and recipient filters with the default
// automated patterns.
func Classify(msg domain.InboundMessage, ownAddress string) Classification {
	return classify(msg, ownAddress, DefaultAutomatedPatterns)
}

// Rules are case-insensitive substring matches, applied in order.
func classify(msg domain.InboundMessage, ownAddress string, automated []string) Classification {
	own := strings.ToLower(strings.TrimSpace(ownAddress))
	from := strings.ToLower(msg.From)

	if own != "" && strings.Contains(from, own) {
		return SelfEcho
	}
	for _, p := range automated {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(from, p) {
			return Automated
		}
	}
	to := strings.ToLower(strings.Join(msg.To, ","))
	if own == "" || !strings.Contains(to, own) {
		return MisRouted
	}
	return Genuine
}

// Classifier combines Classify with a conversation lookup.
type Classifier struct {
	address   *OwnAddress
	state     StateStore
	automated []string
}

// NewClassifier builds a Classifier. Empty automated uses
// DefaultAutomatedPatterns.
func NewClassifier(address *OwnAddress, state StateStore, automated []string) (*Classifier, error) {
	if address == nil {
		return nil, errors.New("usecase: own address must not be nil")
	}
	if state == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if len(automated) == 0 {
		automated = DefaultAutomatedPatterns
	}
	return &Classifier{address: address, state: state, automated: automated}, nil
}

// Evaluate classifies msg. Genuine messages on threads without a record are
// reported as Untracked; for tracked threads the conversation is returned.
func (c *Classifier) Evaluate(ctx context.Context, msg domain.InboundMessage) (Classification, *domain.Conversation, error) {
	own, err := c.address.Get(ctx)
	if err != nil {
		return 0, nil, newError(ErrorUpstream, "own_address_error", err)
	}
	class := classify(msg, own, c.automated)
	if class != Genuine {
		return class, nil, nil
	}
	if strings.TrimSpace(msg.ThreadID) == "" {
		return Untracked, nil, nil
	}
	conv, err := c.state.Get(ctx, msg.ThreadID)
	if err != nil {
		return 0, nil, newError(ErrorInternal, "state_read_error", err)
	}
	if conv == nil {
		return Untracked, nil, nil
	}
	return Genuine, conv, nil
}
