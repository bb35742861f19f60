// Package httpserver exposes the webhook and media-stream endpoints Twilio
// talks to during a test call.
package httpserver

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/middleware"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/runner"
)

// TwiMLProvider renders call-connect instructions.
type TwiMLProvider interface {
	GenerateTwiML(scenarioName string) (string, error)
}

// SessionRunner is one accepted media-stream conversation.
type SessionRunner interface {
	Run(ctx context.Context) error
}

// Deps wires the server's collaborators.
type Deps struct {
	TwiML    TwiMLProvider
	Registry *runner.Registry
	// NewSession wraps an upgraded media-stream connection.
	NewSession func(conn *websocket.Conn) SessionRunner
	// AuthToken signs Twilio webhooks; empty disables validation.
	AuthToken       string
	DefaultScenario string
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Twilio's media stream client sends no browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New builds the configured echo server.
func New(deps Deps) *echo.Echo {
	if deps.DefaultScenario == "" {
		deps.DefaultScenario = "simple_scheduling"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(middleware.TwilioAuth(func() string { return deps.AuthToken }, "/twiml", "/call-status"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	twimlHandler := func(c echo.Context) error {
		scenarioName := c.QueryParam("scenario")
		if scenarioName == "" {
			scenarioName = deps.DefaultScenario
		}
		doc, err := deps.TwiML.GenerateTwiML(scenarioName)
		if err != nil {
			log.Errorf("httpserver: render twiml: %v", err)
			return c.String(http.StatusInternalServerError, "twiml generation failed")
		}
		return c.Blob(http.StatusOK, "application/xml", []byte(doc))
	}
	e.GET("/twiml", twimlHandler)
	e.POST("/twiml", twimlHandler)

	e.POST("/call-status", func(c echo.Context) error {
		callSID := c.FormValue("CallSid")
		status := c.FormValue("CallStatus")
		log.Infof("httpserver: call %s status=%s", callSID, status)
		switch status {
		case "completed", "failed", "busy", "no-answer", "canceled":
			if deps.Registry != nil {
				deps.Registry.Done(callSID, nil)
			}
		}
		return c.String(http.StatusOK, "OK")
	})

	e.GET("/media-stream", func(c echo.Context) error {
		conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Errorf("httpserver: websocket upgrade: %v", err)
			return err
		}
		sess := deps.NewSession(conn)
		if err := sess.Run(c.Request().Context()); err != nil {
			log.Errorf("httpserver: media session: %v", err)
		}
		return nil
	})

	return e
}
