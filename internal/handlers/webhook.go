package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/terarelay/internal/channel/adapters/telegram"
)

// WebhookReceiver decodes and dispatches one posted update.
type WebhookReceiver interface {
	HandleWebhook(r *http.Request) error
}

// WebhookHandler accepts Telegram updates in webhook mode. The path is the only secret, so it
// should be unguessable.
type WebhookHandler struct {
	path     string
	receiver WebhookReceiver
	logger   *slog.Logger
}

// NewWebhookHandler creates a handler for path.
func NewWebhookHandler(log *slog.Logger, path string, receiver WebhookReceiver) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		path:     path,
		receiver: receiver,
		logger:   log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts POST <path>. A nil handler registers nothing.
func (h *WebhookHandler) Register(e *echo.Echo) {
	if h == nil {
		return
	}
	e.POST(h.path, h.Receive)
}

// Receive hands the update to the transport. Telegram retries on non-2xx, so only requests
// that can never succeed are rejected.
func (h *WebhookHandler) Receive(c echo.Context) error {
	if !isJSON(c.Request().Header.Get(echo.HeaderContentType)) {
		return c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{Message: "content type must be application/json"})
	}
	err := h.receiver.HandleWebhook(c.Request())
	switch {
	case err == nil:
		return c.NoContent(http.StatusOK)
	case errors.Is(err, telegram.ErrNotStarted):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: err.Error()})
	default:
		h.logger.Warn("reject webhook update", slog.Any("error", err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == echo.MIMEApplicationJSON
}
