package server

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

type Route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Routes lists the API surface of a handler built by NewRouter, sorted by
// path then method.
func Routes(h http.Handler) ([]Route, error) {
	mux, ok := h.(chi.Routes)
	if !ok {
		return nil, nil
	}
	routes := []Route{}
	err := chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, Route{Method: method, Path: route})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes, err
}
