package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"outreach-agent/internal/domain"
)

const me = "me"

// StatusError carries the HTTP status of a failed Gmail API call.
type StatusError struct {
	Op   string
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gmail: %s: status %d: %v", e.Op, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.Code }

func wrapErr(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &StatusError{Op: op, Code: gerr.Code, Err: err}
	}
	return fmt.Errorf("gmail: %s: %w", op, err)
}

// Client is the Gmail transport: it sends messages and reads threads,
// messages and mailbox history for the authenticated user.
type Client struct {
	svc *gmailapi.Service
}

type Option func(*[]option.ClientOption)

// WithEndpoint points the client at a different API root (tests).
func WithEndpoint(url string) Option {
	return func(opts *[]option.ClientOption) {
		*opts = append(*opts, option.WithEndpoint(url))
	}
}

// New builds a Client. httpClient must already carry OAuth credentials; see
// HTTPClient.
func New(ctx context.Context, httpClient *http.Client, opts ...Option) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("gmail: http client must not be nil")
	}
	clientOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	for _, opt := range opts {
		opt(&clientOpts)
	}
	svc, err := gmailapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Send delivers msg as a plain-text message. A non-empty ThreadID places it
// in that thread.
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) (domain.SentMessage, error) {
	raw, err := buildRaw(msg)
	if err != nil {
		return domain.SentMessage{}, err
	}
	out, err := c.svc.Users.Messages.Send(me, &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: msg.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return domain.SentMessage{}, wrapErr("send", err)
	}
	return domain.SentMessage{MessageID: out.Id, ThreadID: out.ThreadId}, nil
}

// GetThread returns the thread's messages oldest first.
func (c *Client) GetThread(ctx context.Context, threadID string) ([]domain.InboundMessage, error) {
	th, err := c.svc.Users.Threads.Get(me, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("get thread", err)
	}
	out := make([]domain.InboundMessage, 0, len(th.Messages))
	for _, m := range th.Messages {
		out = append(out, toInbound(m))
	}
	return out, nil
}

func (c *Client) GetMessage(ctx context.Context, id string) (domain.InboundMessage, error) {
	m, err := c.svc.Users.Messages.Get(me, id).Format("full").Context(ctx).Do()
	if err != nil {
		return domain.InboundMessage{}, wrapErr("get message", err)
	}
	return toInbound(m), nil
}

// ListRecent returns the ids of the newest max messages, newest first.
func (c *Client) ListRecent(ctx context.Context, max int) ([]string, error) {
	res, err := c.svc.Users.Messages.List(me).MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// ListHistory returns ids of messages added since start and the mailbox's
// current history id.
func (c *Client) ListHistory(ctx context.Context, start uint64) ([]string, uint64, error) {
	var (
		ids    []string
		marker uint64
	)
	err := c.svc.Users.History.List(me).
		StartHistoryId(start).
		HistoryTypes("messageAdded").
		Pages(ctx, func(res *gmailapi.ListHistoryResponse) error {
			if res.HistoryId > marker {
				marker = res.HistoryId
			}
			for _, h := range res.History {
				for _, added := range h.MessagesAdded {
					if added.Message != nil {
						ids = append(ids, added.Message.Id)
					}
				}
			}
			return nil
		})
	if err != nil {
		return nil, 0, wrapErr("list history", err)
	}
	return ids, marker, nil
}

// Profile returns the authenticated mailbox address.
func (c *Client) Profile(ctx context.Context) (string, error) {
	p, err := c.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("get profile", err)
	}
	return p.EmailAddress, nil
}

// WatchResult is the outcome of a watch registration.
type WatchResult struct {
	HistoryID  uint64
	Expiration time.Time
}

// Watch (re)registers push notifications for labels onto topic.
func (c *Client) Watch(ctx context.Context, topic string, labels []string) (WatchResult, error) {
	if strings.TrimSpace(topic) == "" {
		return WatchResult{}, errors.New("gmail: watch topic must not be empty")
	}
	res, err := c.svc.Users.Watch(me, &gmailapi.WatchRequest{
		TopicName: topic,
		LabelIds:  labels,
	}).Context(ctx).Do()
	if err != nil {
		return WatchResult{}, wrapErr("watch", err)
	}
	return WatchResult{HistoryID: res.HistoryId, Expiration: time.UnixMilli(res.Expiration).UTC()}, nil
}
