package gmail

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"

	"outreach-agent/internal/domain"
)

// buildRaw renders msg as an RFC 5322 text/plain message.
func buildRaw(msg domain.OutboundMessage) ([]byte, error) {
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return nil, errors.New("gmail: recipient must not be empty")
	}
	if strings.ContainsAny(to+msg.Subject+msg.InReplyTo+msg.References, "\r\n") {
		return nil, errors.New("gmail: header values must not contain line breaks")
	}

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
		}
	}
	writeHeader("To", to)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("In-Reply-To", msg.InReplyTo)
	writeHeader("References", msg.References)
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=utf-8")
	writeHeader("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("gmail: encode body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("gmail: encode body: %w", err)
	}
	return buf.Bytes(), nil
}
