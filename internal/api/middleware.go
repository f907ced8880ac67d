package api

import (
	"context"
	"net/http"
	"strings"

	"bookstand/internal/inventory"
	"bookstand/internal/staff"
)

type contextKey string

const memberKey contextKey = "member"

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondJSON(w, http.StatusUnauthorized, errorBody{Error: "missing session token"})
			return
		}
		member, err := s.staff.Verify(token)
		if err != nil {
			respondJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid session token"})
			return
		}
		ctx := context.WithValue(r.Context(), memberKey, member)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if memberFrom(r).Role != staff.RoleAdmin {
			respondJSON(w, http.StatusForbidden, errorBody{Error: "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func memberFrom(r *http.Request) staff.Member {
	m, _ := r.Context().Value(memberKey).(staff.Member)
	return m
}

func actorFrom(r *http.Request) inventory.Actor {
	m := memberFrom(r)
	return inventory.Actor{Name: m.Name, Email: m.Email}
}
