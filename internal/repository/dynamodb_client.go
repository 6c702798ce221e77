package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"outreach-agent/internal/domain"
)

const (
	skPrefixMsg  = "MSG#"
	skMeta       = "META#"
	skCheckpoint = "CHECKPOINT#"
)

// DynamoDBAPI is the minimal DynamoDB interface required by Client.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores conversations, checkpoints and transcripts in one DynamoDB
// table keyed by PK/SK.
type Client struct {
	api       DynamoDBAPI
	tableName string
	now       func() time.Time
}

var _ Store = (*Client)(nil)

// New creates a new repository Client.
func New(api DynamoDBAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation thread.
func convPK(threadID string) string {
	return "CONV#" + threadID
}

func mailboxPK(mailbox string) string {
	return "MAILBOX#" + normalizeMailbox(mailbox)
}

func msgSK(messageID string) string {
	return skPrefixMsg + messageID
}

func (c *Client) key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// Get reads the META# item of a thread.
func (c *Client) Get(ctx context.Context, threadID string) (*domain.Conversation, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(convPK(threadID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: Get decode: %w", err)
	}
	return &conv, nil
}

// Upsert writes the conversation state with an update expression so the
// recipient and creation time survive later step commits.
func (c *Client) Upsert(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ThreadID) == "" {
		return errors.New("repository: Upsert: thread id is required")
	}
	now := c.now().UTC()
	updated := conv.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	created := conv.CreatedAt
	if created.IsZero() {
		created = updated
	}

	sets := []string{
		"threadId = :tid",
		"#step = :step",
		"#status = :status",
		"updatedAt = :updated",
		"createdAt = if_not_exists(createdAt, :created)",
	}
	values := map[string]types.AttributeValue{
		":tid":     &types.AttributeValueMemberS{Value: conv.ThreadID},
		":step":    &types.AttributeValueMemberN{Value: strconv.Itoa(conv.Step)},
		":status":  &types.AttributeValueMemberS{Value: string(conv.Status)},
		":updated": &types.AttributeValueMemberS{Value: formatTime(updated)},
		":created": &types.AttributeValueMemberS{Value: formatTime(created)},
	}
	if conv.Recipient.Email != "" {
		sets = append(sets,
			"recipientEmail = if_not_exists(recipientEmail, :remail)",
			"recipientName = if_not_exists(recipientName, :rname)",
		)
		values[":remail"] = &types.AttributeValueMemberS{Value: conv.Recipient.Email}
		values[":rname"] = &types.AttributeValueMemberS{Value: conv.Recipient.Name}
	}

	if conv.LastInboundID != "" {
		sets = append(sets, "lastInboundId = :lid", "lastInboundAt = :lat")
		values[":lid"] = &types.AttributeValueMemberS{Value: conv.LastInboundID}
		values[":lat"] = &types.AttributeValueMemberS{Value: formatTime(conv.LastInboundAt)}
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              c.key(convPK(conv.ThreadID), skMeta),
		UpdateExpression: aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeNames: map[string]string{
			"#step":   "step",
			"#status": "status",
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("repository: Upsert: %w", err)
	}
	return nil
}

// GetCheckpoint returns the stored history marker for a mailbox.
func (c *Client) GetCheckpoint(ctx context.Context, mailbox string) (uint64, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(mailboxPK(mailbox), skCheckpoint),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("repository: GetCheckpoint: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, false, nil
	}
	marker, err := uintAttr(out.Item, "marker")
	if err != nil {
		return 0, false, fmt.Errorf("repository: GetCheckpoint decode marker: %w", err)
	}
	return marker, true, nil
}

// SaveCheckpoint advances the marker with a conditional write. A failed
// condition means a newer marker is already stored.
func (c *Client) SaveCheckpoint(ctx context.Context, mailbox string, marker uint64) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.key(mailboxPK(mailbox), skCheckpoint),
		UpdateExpression:    aws.String("SET marker = :m, updatedAt = :u"),
		ConditionExpression: aws.String("attribute_not_exists(marker) OR marker < :m"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberN{Value: strconv.FormatUint(marker, 10)},
			":u": &types.AttributeValueMemberS{Value: formatTime(c.now())},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("repository: SaveCheckpoint: %w", err)
	}
	return nil
}

// AppendMessage puts a MSG# item under the thread. Writing the same
// message id twice replaces the earlier item.
func (c *Client) AppendMessage(ctx context.Context, entry domain.TranscriptEntry) error {
	if entry.ThreadID == "" || entry.MessageID == "" {
		return errors.New("repository: AppendMessage: thread id and message id are required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      transcriptItem(entry),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// ListTranscript returns the thread's messages oldest first, keeping the
// newest limit entries.
func (c *Client) ListTranscript(ctx context.Context, threadID string, limit int) ([]domain.TranscriptEntry, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(threadID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
	}

	var entries []domain.TranscriptEntry
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTranscript query: %w", err)
		}
		for _, item := range out.Items {
			entry, err := itemToTranscript(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListTranscript unmarshal: %w", err)
			}
			entries = append(entries, entry)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	// Sort keys are message ids, so order by creation time here.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return lastN(entries, limit), nil
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error { return nil }

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	threadID, err := strAttr(item, "threadId")
	if err != nil {
		return domain.Conversation{}, err
	}
	step, err := intAttr(item, "step")
	if err != nil {
		return domain.Conversation{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Conversation{}, err
	}
	updatedRaw, _ := strAttr(item, "updatedAt")
	createdRaw, _ := strAttr(item, "createdAt")
	email, _ := strAttr(item, "recipientEmail") // allow empty
	name, _ := strAttr(item, "recipientName")
	lastID, _ := strAttr(item, "lastInboundId")
	lastAtRaw, _ := strAttr(item, "lastInboundAt")

	updated, err := parseTime(updatedRaw)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: parse updatedAt: %w", err)
	}
	created, err := parseTime(createdRaw)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: parse createdAt: %w", err)
	}

	lastAt, err := parseTime(lastAtRaw)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: parse lastInboundAt: %w", err)
	}

	return domain.Conversation{
		ThreadID:      threadID,
		Step:          step,
		Status:        domain.Status(status),
		Recipient:     domain.Recipient{Email: email, Name: name},
		CreatedAt:     created,
		UpdatedAt:     updated,
		LastInboundID: lastID,
		LastInboundAt: lastAt,
	}, nil
}

func transcriptItem(e domain.TranscriptEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(e.ThreadID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(e.MessageID)},
		"threadId":       &types.AttributeValueMemberS{Value: e.ThreadID},
		"messageId":      &types.AttributeValueMemberS{Value: e.MessageID},
		"sender":         &types.AttributeValueMemberS{Value: e.Sender},
		"subject":        &types.AttributeValueMemberS{Value: e.Subject},
		"body":           &types.AttributeValueMemberS{Value: e.Body},
		"recipientEmail": &types.AttributeValueMemberS{Value: e.Recipient.Email},
		"recipientName":  &types.AttributeValueMemberS{Value: e.Recipient.Name},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(e.CreatedAt)},
	}
}

func itemToTranscript(item map[string]types.AttributeValue) (domain.TranscriptEntry, error) {
	threadID, err := strAttr(item, "threadId")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	messageID, err := strAttr(item, "messageId")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	sender, _ := strAttr(item, "sender")
	subject, _ := strAttr(item, "subject")
	body, _ := strAttr(item, "body")
	email, _ := strAttr(item, "recipientEmail")
	name, _ := strAttr(item, "recipientName")
	lastID, _ := strAttr(item, "lastInboundId")
	lastAtRaw, _ := strAttr(item, "lastInboundAt")
	createdRaw, _ := strAttr(item, "createdAt")
	created, err := parseTime(createdRaw)
	if err != nil {
		return domain.TranscriptEntry{}, fmt.Errorf("repository: parse createdAt: %w", err)
	}
	return domain.TranscriptEntry{
		ThreadID:  threadID,
		MessageID: messageID,
		Sender:    sender,
		Subject:   subject,
		Body:      body,
		Recipient: domain.Recipient{Email: email, Name: name},
		CreatedAt: created,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a number", key)
	}
	return n.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func uintAttr(item map[string]types.AttributeValue, key string) (uint64, error) {
	raw, err := numAttr(item, key)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
