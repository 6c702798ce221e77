package gmail

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"outreach-agent/internal/domain"
)

// pushPayload is the JSON Gmail publishes to the watch topic.
type pushPayload struct {
	EmailAddress string          `json:"emailAddress"`
	HistoryID    json.RawMessage `json:"historyId"`
}

// ParseNotification decodes a Gmail push payload. historyId may be encoded
// as a number or a string.
func ParseNotification(data []byte, deliveryID string) (domain.Notification, error) {
	var p pushPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Notification{}, fmt.Errorf("gmail: decode notification: %w", err)
	}
	raw := strings.Trim(strings.TrimSpace(string(p.HistoryID)), `"`)
	if raw == "" || raw == "null" {
		return domain.Notification{}, errors.New("gmail: notification has no historyId")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("gmail: invalid historyId %q: %w", raw, err)
	}
	return domain.Notification{
		Mailbox:    strings.ToLower(strings.TrimSpace(p.EmailAddress)),
		Checkpoint: id,
		DeliveryID: deliveryID,
	}, nil
}
