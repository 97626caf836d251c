package server

import (
	"net/http"
	"net/http/pprof"
)

func (h *Handler) mountPprof() {
	guard := func(fn http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !h.authorized(r) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			fn(w, r)
		}
	}
	h.mux.HandleFunc("/debug/pprof/", guard(pprof.Index))
	h.mux.HandleFunc("/debug/pprof/cmdline", guard(pprof.Cmdline))
	h.mux.HandleFunc("/debug/pprof/profile", guard(pprof.Profile))
	h.mux.HandleFunc("/debug/pprof/symbol", guard(pprof.Symbol))
	h.mux.HandleFunc("/debug/pprof/trace", guard(pprof.Trace))
}
