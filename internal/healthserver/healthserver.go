// Package healthserver exposes the embedding worker's health snapshot
// over HTTP: GET /health returns {state, consecutiveFailures,
// successRate, errorPatterns, lastSuccessTimestamp}. Grounded on
// statemanager/handlers.go's RegisterRoutes(*echo.Group) pattern.
package healthserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"eve.evalgo.org/memory/internal/worker"
)

// HealthReporter is the subset of *worker.Worker this package depends on.
type HealthReporter interface {
	Health() worker.HealthSnapshot
}

// Server serves the health endpoint.
type Server struct {
	echo     *echo.Echo
	reporter HealthReporter
	port     int
}

// New creates a Server; call Start to listen on port.
func New(reporter HealthReporter, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	s := &Server{echo: e, reporter: reporter, port: port}
	s.registerRoutes(e.Group(""))
	return s
}

func (s *Server) registerRoutes(g *echo.Group) {
	g.GET("/health", s.handleHealth)
}

type healthResponse struct {
	State                string         `json:"state"`
	ConsecutiveFailures  int            `json:"consecutiveFailures"`
	SuccessRate          float64        `json:"successRate"`
	ErrorPatterns        map[string]int `json:"errorPatterns"`
	LastSuccessTimestamp *string        `json:"lastSuccessTimestamp"`
}

func (s *Server) handleHealth(c echo.Context) error {
	snapshot := s.reporter.Health()

	patterns := make(map[string]int, len(snapshot.ErrorPatterns))
	for category, count := range snapshot.ErrorPatterns {
		patterns[string(category)] = count
	}

	var lastSuccess *string
	if snapshot.LastSuccessTimestamp != nil {
		formatted := snapshot.LastSuccessTimestamp.Format("2006-01-02T15:04:05Z07:00")
		lastSuccess = &formatted
	}

	resp := healthResponse{
		State:                string(snapshot.State),
		ConsecutiveFailures:  snapshot.ConsecutiveFailures,
		SuccessRate:          snapshot.SuccessRate,
		ErrorPatterns:        patterns,
		LastSuccessTimestamp: lastSuccess,
	}

	status := http.StatusOK
	if snapshot.State == worker.Critical {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// Start begins listening; blocks until the server stops or errors.
func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%d", s.port))
}

// Shutdown stops the server at once, closing the listener and any open
// connections without waiting for in-flight requests.
func (s *Server) Shutdown() error {
	return s.echo.Close()
}
