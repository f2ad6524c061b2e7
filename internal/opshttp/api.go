package opshttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keithlinneman/ratelog/internal/httpmw"
	"github.com/keithlinneman/ratelog/internal/log"
	"github.com/keithlinneman/ratelog/internal/ratelog"
)

// maxBodyBytes bounds bodies on the mutating routes; an Overrides document
// is tiny.
const maxBodyBytes = 4 << 10

type loggerState struct {
	Config   ratelog.Config `json:"config"`
	Mode     ratelog.Mode   `json:"mode"`
	Stats    ratelog.Stats  `json:"stats"`
	Warnings []string       `json:"warnings,omitempty"`
}

type levelRequest struct {
	Level string `json:"level"`
}

type loggerAPI struct {
	c Controller
}

// registerLoggerRoutes mounts /api/v1/logger. limit, if set, wraps the
// mutating routes only.
func registerLoggerRoutes(r chi.Router, c Controller, limit func(http.Handler) http.Handler) {
	api := &loggerAPI{c: c}
	r.Route("/api/v1/logger", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/", api.get)

		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit)
			}
			r.Use(httpmw.MaxBody(maxBodyBytes))
			r.With(middleware.AllowContentType("application/json")).Patch("/", api.patch)
			r.With(middleware.AllowContentType("application/json")).Put("/level", api.putLevel)
			r.Post("/enable", api.enable)
			r.Post("/disable", api.disable)
		})
	})
}

func (a *loggerAPI) state(warnings ...string) loggerState {
	return loggerState{
		Config:   a.c.Config(),
		Mode:     a.c.Mode(),
		Stats:    a.c.Stats(),
		Warnings: warnings,
	}
}

func (a *loggerAPI) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.state())
}

func (a *loggerAPI) patch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var o ratelog.Overrides
	if !decodeBody(w, r, &o) {
		return
	}
	if o.IsZero() {
		writeError(w, http.StatusBadRequest, "no recognised fields in body")
		return
	}

	var warnings []string
	if o.Level != nil {
		if _, err := log.ParseLevel(*o.Level); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	a.c.Configure(o)

	log.FromContext(ctx).Info(ctx, "logger configured", "config", a.c.Config(), "warnings", len(warnings))
	writeJSON(w, http.StatusOK, a.state(warnings...))
}

func (a *loggerAPI) putLevel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req levelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !a.c.SetLevel(req.Level) {
		_, err := log.ParseLevel(req.Level)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	log.FromContext(ctx).Info(ctx, "logger level changed", "level", req.Level)
	writeJSON(w, http.StatusOK, a.state())
}

func (a *loggerAPI) enable(w http.ResponseWriter, r *http.Request) {
	a.c.Enable()
	log.FromContext(r.Context()).Info(r.Context(), "logger enabled")
	writeJSON(w, http.StatusOK, a.state())
}

func (a *loggerAPI) disable(w http.ResponseWriter, r *http.Request) {
	a.c.Disable()
	log.FromContext(r.Context()).Info(r.Context(), "logger disabled")
	writeJSON(w, http.StatusOK, a.state())
}

// decodeBody writes the error response itself and reports whether to go on.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
