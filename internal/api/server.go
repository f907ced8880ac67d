// Package api is the presentation boundary: it renders read-only views
// of the catalog mirror and the history accumulator over HTTP and
// dispatches user intents into the mutation operations.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookstand/internal/authors"
	"bookstand/internal/catalog"
	"bookstand/internal/history"
	"bookstand/internal/inventory"
	"bookstand/internal/prefs"
	"bookstand/internal/staff"
)

// Server owns the HTTP layer. It holds the engines read-only; all
// mutation goes through the inventory service.
type Server struct {
	mirror   *catalog.Mirror
	books    *inventory.Service
	pager    *history.Pager
	sweeper  *history.Sweeper
	registry *authors.Registry
	staff    *staff.Service
	prefs    *prefs.Store
}

// NewServer wires the handlers.
func NewServer(
	mirror *catalog.Mirror,
	books *inventory.Service,
	pager *history.Pager,
	sweeper *history.Sweeper,
	registry *authors.Registry,
	staffSvc *staff.Service,
	prefStore *prefs.Store,
) *Server {
	return &Server{
		mirror:   mirror,
		books:    books,
		pager:    pager,
		sweeper:  sweeper,
		registry: registry,
		staff:    staffSvc,
		prefs:    prefStore,
	}
}

// Router builds the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/books", s.handleListBooks)
			r.Post("/books", s.handleAddBook)
			r.Put("/books/{id}", s.handleEditBook)
			r.Post("/books/{id}/sell", s.handleSellBook)

			r.Get("/history", s.handleHistory)
			r.Post("/history/more", s.handleLoadMore)

			r.Get("/authors", s.handleAuthors)

			r.Get("/prefs/tab", s.handleGetTab)
			r.Put("/prefs/tab", s.handleSetTab)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Delete("/books/{id}", s.handleDeleteBook)
				r.Post("/history/cleanup", s.handleCleanup)
			})
		})
	})
	return r
}
