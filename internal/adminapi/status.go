package adminapi

import (
	"github.com/labstack/echo/v4"
	"github.com/talkincode/whatshttp/internal/session"
	"github.com/talkincode/whatshttp/internal/webserver"
)

func registerStatusRoutes() {
	webserver.ApiGET("/status", getStatus)
}

type statusView struct {
	Sessions       []session.Info `json:"sessions"`
	WebhookRunning int            `json:"webhookRunning"`
}

func getStatus(c echo.Context) error {
	appCtx := GetApp(c)
	return ok(c, statusView{
		Sessions:       appCtx.Registry().Snapshot(),
		WebhookRunning: appCtx.Dispatcher().Running(),
	})
}
