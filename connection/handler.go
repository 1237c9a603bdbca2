package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/a-h/wsrelay/metrics"
	"github.com/a-h/wsrelay/push"
	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/exp/slog"
)

// Registry records which connections are open.
type Registry interface {
	Put(ctx context.Context, connectionID string) error
	Delete(ctx context.Context, connectionID string) error
}

// ObjectStore persists uploaded files.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Bucket() string
}

// PushChannel sends messages to connected clients.
type PushChannel interface {
	Push(ctx context.Context, endpoint, connectionID string, data []byte) push.Result
}

type Metrics interface {
	Count(ctx context.Context, name metrics.Name)
	Bytes(ctx context.Context, name metrics.Name, n int)
}

// EndpointResolver returns the push endpoint for the domain and stage a
// request arrived on.
type EndpointResolver func(domainName, stage string) string

// UnknownActionMessage is sent in response to messages with no known action.
const UnknownActionMessage = `Unknown action. Use "sendMessage" action.`

func NewHandler(log *slog.Logger, registry Registry, objects ObjectStore, pushes PushChannel, endpoint EndpointResolver, m Metrics) Handler {
	return Handler{
		Log:      log,
		Registry: registry,
		Objects:  objects,
		Push:     pushes,
		Endpoint: endpoint,
		Metrics:  m,
		Now:      time.Now,
	}
}

type Handler struct {
	Log      *slog.Logger
	Registry Registry
	Objects  ObjectStore
	Push     PushChannel
	Endpoint EndpointResolver
	Metrics  Metrics
	Now      func() time.Time
}

// Handle routes a gateway event to its handler. The error is always nil, every
// failure is mapped to a status code.
func (h Handler) Handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	log := h.Log.With(
		slog.String("connectionId", req.RequestContext.ConnectionID),
		slog.String("route", req.RequestContext.RouteKey),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panicked", slog.Any("panic", r))
			resp, err = status(http.StatusInternalServerError), nil
		}
	}()

	switch route(req) {
	case "$connect":
		return h.handleConnect(ctx, log, req), nil
	case "$disconnect":
		return h.handleDisconnect(ctx, log, req), nil
	case "sendMessage":
		return h.handleSendMessage(ctx, log, req), nil
	case "upload":
		return h.handleUpload(ctx, log, req), nil
	default:
		return h.handleDefault(ctx, log, req), nil
	}
}

// route is the gateway's route key. Events that arrive on $default are routed
// on the body's action, so a gateway without route selection still works.
// Only message routes can be selected this way, $connect and $disconnect come
// from the gateway alone.
func route(req events.APIGatewayWebsocketProxyRequest) string {
	key := req.RequestContext.RouteKey
	if key != "" && key != "$default" {
		return key
	}
	switch action := ParseInboundMessage(req.Body).Action; action {
	case "sendMessage", "upload":
		return action
	}
	return "$default"
}

func (h Handler) handleConnect(ctx context.Context, log *slog.Logger, req events.APIGatewayWebsocketProxyRequest) events.APIGatewayProxyResponse {
	if err := h.Registry.Put(ctx, req.RequestContext.ConnectionID); err != nil {
		log.Error("Failed to store connection", slog.Any("error", err))
		return statusBody(http.StatusInternalServerError, responseBody{Error: "Failed to connect"})
	}
	h.Metrics.Count(ctx, metrics.Connected)
	log.Info("Connection established")
	return statusBody(http.StatusOK, responseBody{Message: "Connected"})
}

func (h Handler) handleDisconnect(ctx context.Context, log *slog.Logger, req events.APIGatewayWebsocketProxyRequest) events.APIGatewayProxyResponse {
	if err := h.Registry.Delete(ctx, req.RequestContext.ConnectionID); err != nil {
		log.Error("Failed to delete connection", slog.Any("error", err))
		return statusBody(http.StatusInternalServerError, responseBody{Error: "Failed to disconnect"})
	}
	h.Metrics.Count(ctx, metrics.Disconnected)
	log.Info("Connection closed")
	return statusBody(http.StatusOK, responseBody{Message: "Disconnected"})
}

func (h Handler) handleDefault(ctx context.Context, log *slog.Logger, req events.APIGatewayWebsocketProxyRequest) events.APIGatewayProxyResponse {
	msg := ParseInboundMessage(req.Body)
	log.Info("Received message with unknown action", slog.String("action", msg.Action))

	err := h.pushTo(ctx, log, req, OutboundMessage{
		Type:    TypeError,
		Message: UnknownActionMessage,
	})
	if err != nil {
		log.Error("Failed to send unknown action error", slog.Any("error", err))
		return status(http.StatusInternalServerError)
	}
	return status(http.StatusOK)
}

func (h Handler) handleSendMessage(ctx context.Context, log *slog.Logger, req events.APIGatewayWebsocketProxyRequest) events.APIGatewayProxyResponse {
	msg := ParseInboundMessage(req.Body)
	log.Info("Received message", slog.Int("bodyLength", len(req.Body)))

	err := h.pushTo(ctx, log, req, OutboundMessage{
		Type:    TypeMessage,
		Message: "Message received",
		Data:    msg,
	})
	if err != nil {
		log.Error("Failed to echo message", slog.Any("error", err))
		return status(http.StatusInternalServerError)
	}
	h.Metrics.Count(ctx, metrics.MessageEchoed)
	return status(http.StatusOK)
}

func (h Handler) handleUpload(ctx context.Context, log *slog.Logger, req events.APIGatewayWebsocketProxyRequest) events.APIGatewayProxyResponse {
	msg := ParseInboundMessage(req.Body)
	log = log.With(
		slog.String("fileName", msg.FileName),
		slog.String("contentType", msg.ContentType),
	)
	log.Info("Upload requested", slog.Int("dataLength", len(msg.Data)))

	payload, ok, err := msg.UploadData()
	if !ok {
		return h.rejectUpload(ctx, log, req, "No data provided", "Data field is required")
	}
	if err != nil {
		return h.rejectUpload(ctx, log, req, "Invalid data", err.Error())
	}
	if err = msg.UploadFieldsError(); err != nil {
		return h.rejectUpload(ctx, log, req, "Invalid data", err.Error())
	}

	key := ObjectKey(req.RequestContext.ConnectionID, h.Now(), msg.FileName)
	if err = h.Objects.Put(ctx, key, payload, msg.ContentType); err != nil {
		log.Error("Failed to upload file", slog.String("key", key), slog.Any("error", err))
		h.Metrics.Count(ctx, metrics.UploadFailed)
		pushErr := h.pushTo(ctx, log, req, OutboundMessage{
			Type:    TypeUploadError,
			Message: "Failed to upload file",
			Error:   err.Error(),
		})
		if pushErr != nil {
			log.Error("Failed to send upload error", slog.Any("error", pushErr))
		}
		return status(http.StatusInternalServerError)
	}
	log.Info("File uploaded", slog.String("key", key), slog.Int("bytes", len(payload)))
	h.Metrics.Count(ctx, metrics.UploadSucceeded)
	h.Metrics.Bytes(ctx, metrics.UploadedBytes, len(payload))

	err = h.pushTo(ctx, log, req, OutboundMessage{
		Type:    TypeUploadSuccess,
		Message: "File uploaded successfully",
		Data: UploadedObject{
			ObjectKey: key,
			Bucket:    h.Objects.Bucket(),
		},
	})
	if err != nil {
		log.Error("Failed to send upload confirmation", slog.Any("error", err))
		return status(http.StatusInternalServerError)
	}
	return status(http.StatusOK)
}

func (h Handler) rejectUpload(ctx context.Context, log *slog.Logger, req events.APIGatewayWebsocketProxyRequest, message, reason string) events.APIGatewayProxyResponse {
	log.Warn("Upload rejected", slog.String("reason", reason))
	err := h.pushTo(ctx, log, req, OutboundMessage{
		Type:    TypeUploadError,
		Message: message,
		Error:   reason,
	})
	if err != nil {
		log.Error("Failed to send upload error", slog.Any("error", err))
		return status(http.StatusInternalServerError)
	}
	return status(http.StatusBadRequest)
}

// ObjectKey returns the key an upload is stored under.
func ObjectKey(connectionID string, now time.Time, fileName string) string {
	if fileName == "" {
		fileName = "upload"
	}
	return fmt.Sprintf("%s/%d-%s", connectionID, now.UnixMilli(), fileName)
}

// pushTo sends msg back to the connection that made the request. If the
// connection has gone, its record is removed and no error is returned.
func (h Handler) pushTo(ctx context.Context, log *slog.Logger, req events.APIGatewayWebsocketProxyRequest, msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("connection: failed to encode %s message: %w", msg.Type, err)
	}
	connectionID := req.RequestContext.ConnectionID
	endpoint := h.Endpoint(req.RequestContext.DomainName, req.RequestContext.Stage)

	r := h.Push.Push(ctx, endpoint, connectionID, data)
	switch r.Status {
	case push.Delivered:
		return nil
	case push.TargetGone:
		log.Info("Connection is gone, removing it")
		if err = h.Registry.Delete(ctx, connectionID); err != nil {
			log.Error("Failed to remove gone connection", slog.Any("error", err))
			return nil
		}
		h.Metrics.Count(ctx, metrics.StaleConnectionRemoved)
		return nil
	default:
		return r.Err
	}
}

type responseBody struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func status(code int) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: code}
}

func statusBody(code int, body responseBody) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayProxyResponse{
		StatusCode: code,
		Body:       string(b),
	}
}
