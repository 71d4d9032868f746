// Package adminapi exposes the tenant HTTP API.
package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/whatshttp/internal/app"
	"github.com/talkincode/whatshttp/internal/webserver"
)

// Init registers every API route on the global web server.
func Init() {
	registerAuthRoutes()
	registerMessageRoutes()
	registerStatusRoutes()
}

type errorBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

func fail(c echo.Context, status int, code, msg string, details interface{}) error {
	return c.JSON(status, errorBody{Error: code, Message: msg, Details: details})
}

// GetApp returns the application context attached by the web server.
func GetApp(c echo.Context) app.AppContext {
	return c.Get(webserver.AppContextKey).(app.AppContext)
}
