package gmail

import (
	"net/mail"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"outreach-agent/internal/domain"
)

func toInbound(m *gmailapi.Message) domain.InboundMessage {
	in := domain.InboundMessage{ID: m.Id, ThreadID: m.ThreadId}
	if m.InternalDate > 0 {
		in.ReceivedAt = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		in.Body = strings.TrimSpace(m.Snippet)
		return in
	}
	h := m.Payload.Headers
	in.From = header(h, "From")
	in.Subject = header(h, "Subject")
	in.MessageIDHeader = header(h, "Message-ID")
	in.To = append(addresses(header(h, "To")), addresses(header(h, "Cc"))...)
	in.Body = extractBody(m.Payload, m.Snippet)
	return in
}

func header(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

// addresses splits an address-list header. Unparseable values are kept
// whole so the caller can still substring-match them.
func addresses(v string) []string {
	if v == "" {
		return nil
	}
	list, err := mail.ParseAddressList(v)
	if err != nil {
		return []string{v}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}
