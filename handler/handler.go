package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"outreach-agent/internal/domain"
	"outreach-agent/internal/integrations/gmail"
	"outreach-agent/internal/observability"
	"outreach-agent/internal/orchestrator"
)

const correlationHeader = "X-Correlation-Id"

// NotificationHandler processes one decoded mailbox notification.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n domain.Notification) orchestrator.Report
}

// Handler is the Pub/Sub push endpoint behind API Gateway. Every delivery
// that reaches processing is acknowledged with 200, including malformed
// ones, so Pub/Sub never redelivers a payload that cannot succeed.
type Handler struct {
	notifications NotificationHandler
	logger        *slog.Logger
}

type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type ackResponse struct {
	Status        string         `json:"status"`
	CorrelationID string         `json:"correlationId"`
	Outcomes      map[string]int `json:"outcomes,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(notifications NotificationHandler, logger *slog.Logger) (*Handler, error) {
	if notifications == nil {
		return nil, errors.New("handler: notification handler must not be nil")
	}
	if logger == nil {
		logger = observability.Logger()
	}
	return &Handler{notifications: notifications, logger: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	logger := observability.LoggerFromContext(ctx, h.logger)

	if req.HTTPMethod != "" && req.HTTPMethod != http.MethodPost {
		return jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: "method_not_allowed"}), nil
	}

	n, err := decodePush(req)
	if err != nil {
		logger.Warn("push delivery dropped", "err", err)
		return jsonResponse(http.StatusOK, correlationID, ackResponse{Status: "ignored", CorrelationID: correlationID}), nil
	}

	report := h.notifications.HandleNotification(ctx, n)
	out := ackResponse{Status: "processed", CorrelationID: correlationID}
	if report.Err != nil {
		out.Status = "failed"
	}
	if len(report.Messages) > 0 {
		out.Outcomes = make(map[string]int)
		for _, m := range report.Messages {
			out.Outcomes[string(m.Outcome)]++
		}
	}
	return jsonResponse(http.StatusOK, correlationID, out), nil
}

func decodePush(req events.APIGatewayProxyRequest) (domain.Notification, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return domain.Notification{}, errors.New("request body is not valid base64")
		}
		body = decoded
	}
	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Notification{}, errors.New("request body is not a push envelope")
	}
	if env.Message.Data == "" {
		return domain.Notification{}, errors.New("push envelope has no data")
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return domain.Notification{}, errors.New("push data is not valid base64")
	}
	return gmail.ParseNotification(data, env.Message.MessageID)
}

// headerValue looks a header up case-insensitively; API Gateway forwards
// whatever casing the client used.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}
