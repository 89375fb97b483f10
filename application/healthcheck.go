package application

import (
	"context"
	"net/http"

	"github.com/platforma-dev/migrator/log"
)

type healther interface {
	Health(context.Context) *Health
}

// HealthCheckHandler serves application health information as JSON.
type HealthCheckHandler struct {
	app healther
}

// NewHealthCheckHandler creates a HealthCheckHandler for the given application.
func NewHealthCheckHandler(app healther) *HealthCheckHandler {
	return &HealthCheckHandler{app: app}
}

func (h *HealthCheckHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := h.app.Health(r.Context()).String()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(body + "\n")); err != nil {
		log.ErrorContext(r.Context(), "failed to write health response", "error", err)
	}
}
