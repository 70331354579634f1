// Command mock-backend runs a deterministic HTTP tool backend for trying
// out toolgate's HTTP providers. Its endpoints exercise the parameter
// mapping targets (path, query, header, body), the authentication
// strategies and the status error mapping.
//
// Configuration:
//
//	MOCK_PORT  - Listen port (default: 9090)
//	MOCK_TOKEN - Bearer token required on /v1/secure/* (default: "demo-token")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}
	token := os.Getenv("MOCK_TOKEN")
	if token == "" {
		token = "demo-token"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/weather", handleWeather)
	mux.HandleFunc("POST /v1/notes", handleCreateNote)
	mux.HandleFunc("GET /v1/items/{id}", handleItem)
	mux.HandleFunc("GET /v1/status/{code}", handleStatus)
	mux.Handle("GET /v1/secure/whoami", requireBearer(token, http.HandlerFunc(handleWhoAmI)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: logRequests(mux)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "query", r.URL.RawQuery)
		next.ServeHTTP(w, r)
	})
}

func requireBearer(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleWeather answers GET /v1/weather?city=...&units=...
func handleWeather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "city is required"})
		return
	}
	units := r.URL.Query().Get("units")
	if units == "" {
		units = "metric"
	}
	// Deterministic temperature derived from the city name.
	temp := 0
	for _, c := range strings.ToLower(city) {
		temp += int(c)
	}
	temp = temp%35 - 5
	if units == "imperial" {
		temp = temp*9/5 + 32
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"city":        city,
		"units":       units,
		"temperature": temp,
		"conditions":  "clear",
	})
}

// handleCreateNote answers POST /v1/notes with a JSON body.
func handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var note struct {
		Title string   `json:"title"`
		Body  string   `json:"body"`
		Tags  []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if note.Title == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "title is required"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         fmt.Sprintf("note-%d", len(note.Title)*7+len(note.Body)),
		"title":      note.Title,
		"tags":       note.Tags,
		"request_id": r.Header.Get("X-Request-ID"),
	})
}

// handleItem answers GET /v1/items/{id}; ids above 1000 do not exist.
func handleItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be numeric"})
		return
	}
	if id > 1000 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such item"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": fmt.Sprintf("item %d", id)})
}

// handleStatus answers GET /v1/status/{code} with that status.
func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 200 || code > 599 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code must be 200-599"})
		return
	}
	writeJSON(w, code, map[string]any{"status": code})
}

func handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"subject": "demo", "user_agent": r.UserAgent()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
