package domain

// Notification is a decoded push event: "mailbox changed, new marker X".
type Notification struct {
	Mailbox    string
	Checkpoint uint64
	DeliveryID string
}
