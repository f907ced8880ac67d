package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"bookstand/internal/catalog"
	"bookstand/internal/inventory"
	"bookstand/internal/prefs"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	member, token, err := s.staff.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token":  token,
		"member": member,
	})
}

// handleListBooks renders the filtered, sorted view of the mirror.
// An explicit sort is persisted and reused for later requests without
// one, so the preferred order survives restarts.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	view := catalog.View{Search: q.Get("q")}
	if by := q.Get("sort"); by != "" {
		view.Sort = catalog.SortSpec{By: by, Order: catalog.Direction(q.Get("order"))}
		if err := view.Sort.Validate(); err != nil {
			respondJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		if view.Sort.Order == "" {
			view.Sort.Order = catalog.Ascending
		}
		_ = s.prefs.SetSort(prefs.SortState{By: view.Sort.By, Order: string(view.Sort.Order)})
	} else if saved, ok := s.prefs.Sort(); ok {
		view.Sort = catalog.SortSpec{By: saved.By, Order: catalog.Direction(saved.Order)}
	}

	var err error
	if view.MinPrice, err = priceParam(q.Get("min_price")); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid min_price", Field: "min_price"})
		return
	}
	if view.MaxPrice, err = priceParam(q.Get("max_price")); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid max_price", Field: "max_price"})
		return
	}

	shown := view.Apply(s.mirror.Snapshot())
	respondJSON(w, http.StatusOK, map[string]any{
		"books":  shown,
		"counts": s.mirror.Counts(shown),
		"ready":  s.mirror.Ready(),
	})
}

// priceParam parses a nullable price bound. A comma decimal separator is
// accepted, as the original entry forms allowed.
func priceParam(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

type bookRequest struct {
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Stock  int     `json:"stock"`
	Price  float64 `json:"price"`
	ISBN   string  `json:"isbn"`
}

func (b bookRequest) input() inventory.BookInput {
	return inventory.BookInput{
		Title:  b.Title,
		Author: b.Author,
		Stock:  b.Stock,
		Price:  b.Price,
		ISBN:   b.ISBN,
	}
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	id, err := s.books.Add(r.Context(), actorFrom(r), req.input())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleEditBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	if err := s.books.Edit(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.input()); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSellBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int    `json:"quantity"`
		Notes    string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	if err := s.books.Sell(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Quantity, req.Notes); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := s.books.Delete(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"entries":  s.pager.Entries(),
		"has_more": s.pager.HasMore(),
		"loading":  s.pager.Loading(),
		"ready":    s.pager.Ready(),
	})
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	if err := s.pager.LoadMore(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	s.handleHistory(w, r)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.sweeper.Cleanup(r.Context())
	if err != nil {
		// Partial progress is real progress: report the count with the
		// failure so the caller can retry.
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"deleted": deleted,
			"error":   "cleanup interrupted, retry to continue",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func (s *Server) handleAuthors(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"authors": s.registry.Names()})
}

func (s *Server) handleGetTab(w http.ResponseWriter, r *http.Request) {
	tab := s.prefs.ActiveTab()
	if tab == "" {
		tab = "books"
	}
	respondJSON(w, http.StatusOK, map[string]string{"tab": tab})
}

func (s *Server) handleSetTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tab string `json:"tab"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Tab != "books" && req.Tab != "history") {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "tab must be \"books\" or \"history\""})
		return
	}
	if err := s.prefs.SetActiveTab(req.Tab); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
