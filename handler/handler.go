package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chatsync/internal/domain"
	"chatsync/internal/integrations/attachments"
	"chatsync/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Sender interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
}

type Conversations interface {
	Create(ctx context.Context, in usecase.CreateInput) (usecase.CreateOutput, error)
	Snapshot(ctx context.Context, conversationID string) (domain.Snapshot, error)
	Summaries(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	MarkSeen(ctx context.Context, userID, conversationID string) error
}

type Translator interface {
	Translate(ctx context.Context, in usecase.TranslateInput) (usecase.TranslateOutput, error)
}

// Handler serves the API Gateway proxy integration.
type Handler struct {
	sender        Sender
	conversations Conversations
	translator    Translator
	logger        *slog.Logger
}

type createRequest struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
}

type createResponse struct {
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	StaleSummaries []string  `json:"staleSummaries,omitempty"`
}

type attachmentPayload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

type sendRequest struct {
	SenderID        string             `json:"senderId"`
	ReceiverID      string             `json:"receiverId"`
	Text            string             `json:"text"`
	AttachmentURL   string             `json:"attachmentUrl"`
	Attachment      *attachmentPayload `json:"attachment"`
	SenderBlocked   bool               `json:"senderBlocked"`
	ReceiverBlocked bool               `json:"receiverBlocked"`
}

type sendResponse struct {
	Message        domain.Message `json:"message"`
	Version        int            `json:"version"`
	StaleSummaries []string       `json:"staleSummaries,omitempty"`
}

type translateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type translateResponse struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Language       string `json:"language"`
	Text           string `json:"text"`
}

type summariesResponse struct {
	UserID string                       `json:"userId"`
	Chats  []domain.ConversationSummary `json:"chats"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func NewHandler(sender Sender, conversations Conversations, translator Translator, logger *slog.Logger) (*Handler, error) {
	if sender == nil {
		return nil, errors.New("handler: sender must not be nil")
	}
	if conversations == nil {
		return nil, errors.New("handler: conversations must not be nil")
	}
	if translator == nil {
		return nil, errors.New("handler: translator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sender: sender, conversations: conversations, translator: translator, logger: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := h.logger.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	body, err := requestBody(req)
	if err != nil {
		return errorJSON(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body"), nil
	}

	seg := strings.Split(strings.Trim(req.Path, "/"), "/")
	method := strings.ToUpper(req.HTTPMethod)

	switch {
	case match(seg, "conversations"):
		if method != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		return h.create(ctx, logger, corrID, body), nil
	case match(seg, "conversations", "*"):
		if method != http.MethodGet {
			return methodNotAllowed(corrID), nil
		}
		return h.snapshot(ctx, logger, corrID, seg[1]), nil
	case match(seg, "conversations", "*", "messages"):
		if method != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		return h.send(ctx, logger, corrID, seg[1], body), nil
	case match(seg, "conversations", "*", "messages", "*", "translation"):
		if method != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		return h.translate(ctx, logger, corrID, seg[1], seg[3], body), nil
	case match(seg, "users", "*", "conversations"):
		if method != http.MethodGet {
			return methodNotAllowed(corrID), nil
		}
		return h.summaries(ctx, logger, corrID, seg[1]), nil
	case match(seg, "users", "*", "conversations", "*", "seen"):
		if method != http.MethodPost {
			return methodNotAllowed(corrID), nil
		}
		return h.markSeen(ctx, logger, corrID, seg[1], seg[3]), nil
	}
	return errorJSON(corrID, http.StatusNotFound, usecase.ErrorNotFound, "route_not_found"), nil
}

func (h *Handler) create(ctx context.Context, logger *slog.Logger, corrID, body string) events.APIGatewayProxyResponse {
	var in createRequest
	if err := decode(body, &in); err != nil {
		return errorJSON(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body")
	}
	out, err := h.conversations.Create(ctx, usecase.CreateInput{UserID: in.UserID, ReceiverID: in.ReceiverID})
	if err != nil {
		return h.fail(logger, corrID, err)
	}
	return jsonResponse(corrID, http.StatusCreated, createResponse{
		ConversationID: out.ConversationID,
		CreatedAt:      out.CreatedAt,
		StaleSummaries: out.StaleSummaries,
	})
}

func (h *Handler) snapshot(ctx context.Context, logger *slog.Logger, corrID, conversationID string) events.APIGatewayProxyResponse {
	snap, err := h.conversations.Snapshot(ctx, conversationID)
	if err != nil {
		return h.fail(logger, corrID, err)
	}
	return jsonResponse(corrID, http.StatusOK, snap)
}

func (h *Handler) send(ctx context.Context, logger *slog.Logger, corrID, conversationID, body string) events.APIGatewayProxyResponse {
	var in sendRequest
	if err := decode(body, &in); err != nil {
		return errorJSON(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body")
	}
	sendIn := usecase.SendInput{
		ConversationID:  conversationID,
		SenderID:        in.SenderID,
		ReceiverID:      in.ReceiverID,
		Text:            in.Text,
		AttachmentURL:   in.AttachmentURL,
		SenderBlocked:   in.SenderBlocked,
		ReceiverBlocked: in.ReceiverBlocked,
	}
	if in.Attachment != nil {
		sendIn.Attachment = &attachments.Upload{
			Name:        in.Attachment.Name,
			ContentType: in.Attachment.ContentType,
			Data:        in.Attachment.Data,
		}
	}

	out, err := h.sender.Send(ctx, sendIn)
	if err != nil {
		return h.fail(logger, corrID, err)
	}
	if len(out.StaleSummaries) > 0 {
		logger.Warn("message sent with stale summaries", "conversation_id", conversationID, "users", out.StaleSummaries)
	}
	return jsonResponse(corrID, http.StatusCreated, sendResponse{
		Message:        out.Message,
		Version:        out.Snapshot.Version(),
		StaleSummaries: out.StaleSummaries,
	})
}

func (h *Handler) translate(ctx context.Context, logger *slog.Logger, corrID, conversationID, messageID, body string) events.APIGatewayProxyResponse {
	var in translateRequest
	if err := decode(body, &in); err != nil {
		return errorJSON(corrID, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body")
	}
	out, err := h.translator.Translate(ctx, usecase.TranslateInput{
		ConversationID: conversationID,
		MessageID:      messageID,
		Text:           in.Text,
		Language:       in.Language,
	})
	if err != nil {
		return h.fail(logger, corrID, err)
	}
	return jsonResponse(corrID, http.StatusOK, translateResponse{
		ConversationID: conversationID,
		MessageID:      messageID,
		Language:       out.Language,
		Text:           out.Text,
	})
}

func (h *Handler) summaries(ctx context.Context, logger *slog.Logger, corrID, userID string) events.APIGatewayProxyResponse {
	chats, err := h.conversations.Summaries(ctx, userID)
	if err != nil {
		return h.fail(logger, corrID, err)
	}
	if chats == nil {
		chats = []domain.ConversationSummary{}
	}
	return jsonResponse(corrID, http.StatusOK, summariesResponse{UserID: userID, Chats: chats})
}

func (h *Handler) markSeen(ctx context.Context, logger *slog.Logger, corrID, userID, conversationID string) events.APIGatewayProxyResponse {
	if err := h.conversations.MarkSeen(ctx, userID, conversationID); err != nil {
		return h.fail(logger, corrID, err)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusNoContent,
		Headers:    map[string]string{correlationHeader: corrID},
	}
}

func (h *Handler) fail(logger *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logger.Error("unexpected error", "err", err)
		return errorJSON(corrID, http.StatusInternalServerError, usecase.ErrorInternal, "")
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)
	} else {
		logger.Info("request rejected", "code", ue.Code, "reason", ue.Reason)
	}
	return errorJSON(corrID, status, ue.Code, ue.Reason)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorBlocked:
		return http.StatusForbidden
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorTranslationFailure, usecase.ErrorResolutionFailure:
		return http.StatusBadGateway
	case usecase.ErrorWriteFailure, usecase.ErrorReadFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// match compares path segments against a pattern where "*" matches any
// non-empty segment.
func match(seg []string, pattern ...string) bool {
	if len(seg) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p == "*" {
			if seg[i] == "" {
				return false
			}
			continue
		}
		if seg[i] != p {
			return false
		}
	}
	return true
}

func requestBody(req events.APIGatewayProxyRequest) (string, error) {
	if !req.IsBase64Encoded {
		return req.Body, nil
	}
	raw, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decode(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return errors.New("empty body")
	}
	return json.Unmarshal([]byte(body), v)
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(corrID string, status int, v any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		return errorJSON(corrID, http.StatusInternalServerError, usecase.ErrorInternal, "encode_failed")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(b),
	}
}

func errorJSON(corrID string, status int, code usecase.ErrorCode, reason string) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(errorResponse{Error: string(code), Reason: reason})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(b),
	}
}

func methodNotAllowed(corrID string) events.APIGatewayProxyResponse {
	return errorJSON(corrID, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, "method_not_allowed")
}
