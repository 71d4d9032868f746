package adminapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
	"github.com/talkincode/whatshttp/internal/domain"
	"github.com/talkincode/whatshttp/internal/session"
	"github.com/talkincode/whatshttp/internal/store"
	"github.com/talkincode/whatshttp/internal/webserver"
	"go.uber.org/zap"
)

var idNode *snowflake.Node

func init() {
	var err error
	idNode, err = snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
}

func registerAuthRoutes() {
	webserver.ApiGET("/auth/qrCode", getPairingCode)
	webserver.ApiGET("/auth", getClient)
	webserver.ApiDELETE("/auth", deleteClient)
}

// clientView is the public form of a tenant record.
type clientView struct {
	ClientID string  `json:"clientId"`
	Name     string  `json:"name"`
	Ready    bool    `json:"ready"`
	Qr       *string `json:"qr"`
	WebHook  *string `json:"webHook"`
}

func viewOf(rec *domain.WhatsappClient) clientView {
	v := clientView{ClientID: rec.ClientID, Name: rec.Name, Ready: rec.Ready}
	if rec.QrCode != "" {
		v.Qr = &rec.QrCode
	}
	if rec.WebHook != "" {
		v.WebHook = &rec.WebHook
	}
	return v
}

// getPairingCode starts (or finds) the client and renders its pairing code.
// Without clientId a new id is generated.
func getPairingCode(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("clientId"))
	if id == "" {
		id = idNode.Generate().String()
	}
	webHook := strings.TrimSpace(c.QueryParam("webHook"))

	ctx := c.Request().Context()
	s, err := GetApp(c).Registry().GetOrCreate(ctx, id, true)
	switch {
	case errors.Is(err, session.ErrInvalidClientID):
		return fail(c, http.StatusBadRequest, "INVALID_CLIENT_ID", "Invalid client id", nil)
	case errors.Is(err, session.ErrNotFound):
		// terminated while starting, e.g. deleted concurrently
		return fail(c, http.StatusNotFound, "CLIENT_NOT_FOUND", "Client not found", nil)
	case err != nil:
		zap.L().Warn("adminapi: start client failed", zap.String("client_id", id), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "CONNECTION_FAILURE", "Failed to start client", err.Error())
	}

	if webHook != "" {
		if err := s.SetWebhook(ctx, webHook); err != nil {
			zap.L().Warn("adminapi: save webhook failed", zap.String("client_id", id), zap.Error(err))
		}
	}

	if s.State() == session.StateReady {
		return c.String(http.StatusOK, "Client ready from cache, you dont need a qrcode")
	}

	code := s.PairingCode()
	if code == "" {
		q := url.Values{"clientId": {id}}
		if webHook != "" {
			q.Set("webHook", webHook)
		}
		return c.HTML(http.StatusOK, fmt.Sprintf(
			"<p>Wait a few seconds and try again: Loading...</p>\n<br>\n<a href='/api/auth/qrCode?%s'>\n<button>Retry</button>\n</a>\n",
			html.EscapeString(q.Encode())))
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QRCODE_ERROR", "Failed to render pairing code", err.Error())
	}
	return c.HTML(http.StatusOK, fmt.Sprintf(`<img src="data:image/png;base64,%s" alt="QR Code"/>`,
		base64.StdEncoding.EncodeToString(png)))
}

func getClient(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("clientId"))
	if id == "" {
		return fail(c, http.StatusBadRequest, "MISSING_CLIENT_ID", "clientId is required", nil)
	}
	rec, err := GetApp(c).Store().Find(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, http.StatusNotFound, "CLIENT_NOT_FOUND", "Client not found", nil)
	} else if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query client", err.Error())
	}
	return ok(c, viewOf(rec))
}

// deleteClient logs the client out and removes its record.
func deleteClient(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("clientId"))
	if id == "" {
		return fail(c, http.StatusBadRequest, "MISSING_CLIENT_ID", "clientId is required", nil)
	}
	if err := GetApp(c).Registry().Delete(c.Request().Context(), id); err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete client", err.Error())
	}
	return c.String(http.StatusOK, "OK")
}
