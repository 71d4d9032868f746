package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/whatshttp/internal/session"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webserver"
	"go.uber.org/zap"
)

const sendTimeout = 2 * time.Minute

func registerMessageRoutes() {
	webserver.ApiPOST("/message/chat/:chatId", postChatMessage)
}

// normalizeChatID appends the chat suffix unless one is present.
func normalizeChatID(chatID string, group bool) string {
	if strings.HasSuffix(chatID, "@c.us") || strings.HasSuffix(chatID, "@g.us") {
		return chatID
	}
	if group {
		return chatID + "@g.us"
	}
	return chatID + "@c.us"
}

type messagePayload struct {
	Message string `json:"message"`
}

// postChatMessage answers as soon as the request is accepted. The send runs
// in the background with typing presence.
func postChatMessage(c echo.Context) error {
	appCtx := GetApp(c)
	id := strings.TrimSpace(c.QueryParam("clientId"))
	ctx := c.Request().Context()

	rec, err := appCtx.Store().Find(ctx, id)
	if errors.Is(err, store.ErrNotFound) || id == "" {
		return fail(c, http.StatusNotFound, "CLIENT_NOT_FOUND", "Client not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query client", err.Error())
	}
	if !rec.Ready {
		return fail(c, http.StatusBadRequest, "CLIENT_NOT_READY", "Client not ready", nil)
	}

	var payload messagePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Message == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "message is required", nil)
	}

	s, err := appCtx.Registry().GetOrCreate(ctx, id, false)
	if errors.Is(err, session.ErrNotFound) {
		return fail(c, http.StatusBadRequest, "CLIENT_NOT_READY", "Client not ready", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "CONNECTION_FAILURE", "Failed to resume client", err.Error())
	}

	chatID := normalizeChatID(c.Param("chatId"), c.QueryParam("group") == "true")
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		msgID, err := s.SendText(sctx, chatID, payload.Message)
		if err != nil {
			zap.L().Warn("adminapi: send message failed",
				zap.String("client_id", id), zap.String("chat_id", chatID), zap.Error(err))
			return
		}
		zap.L().Debug("adminapi: message sent",
			zap.String("client_id", id), zap.String("chat_id", chatID), zap.String("message_id", msgID))
	}()

	return c.String(http.StatusOK, "OK")
}
