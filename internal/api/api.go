package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cippm/cip/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// API serves the read-only HTTP view of the registry. All writes go
// through the TCP protocol; these endpoints only browse.
type API struct {
	logger *zap.Logger
	store  *registry.Store
}

// NewAPI creates the browse API over an existing registry store.
func NewAPI(store *registry.Store, logger *zap.Logger) *API {
	return &API{logger: logger, store: store}
}

// Router builds the chi router with the standard middleware set.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/packages", a.listPackages)
		r.Get("/packages/{name}", a.getPackage)
		r.Get("/users/{username}", a.getUser)
	})
	return r
}

// listPackages returns every package with its versions.
func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := a.store.ListPackages()
	if err != nil {
		a.logger.Error("failed to list packages", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, packages)
}

// getPackage returns one package by name.
func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "package name is required", http.StatusBadRequest)
		return
	}

	info, err := a.store.GetPackage(name)
	if errors.Is(err, registry.ErrPackageNotFound) {
		http.Error(w, "package not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("failed to get package", zap.String("name", name), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, info)
}

// getUser returns a user profile as plain text, the same rendering the
// TCP protocol serves.
func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	profile, err := a.store.DescribeUser(username)
	if errors.Is(err, registry.ErrUserNotFound) {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("failed to describe user", zap.String("username", username), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(profile))
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response", zap.Error(err))
	}
}
