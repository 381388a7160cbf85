// Package api serves the platform's tables and views as read-only JSON. Each
// endpoint returns the rows exactly as the database yields them, so the
// surface follows schema changes without handler edits.
package api

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
)

// defaultHTTPHandler answers the health probe on the root route.
type defaultHTTPHandler struct {
}

// ServeHTTP implements defaultHTTPHandler http.Handler interface
func (h *defaultHTTPHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

// tableHandler serves one table or view.
type tableHandler struct {
	log   *logger.Logger
	db    *sqlx.DB
	query string
}

func makeTableHandler(log *logger.Logger, db *sqlx.DB, relation string) *tableHandler {
	return &tableHandler{
		log:   log,
		db:    db,
		query: "select * from " + relation,
	}
}

// ServeHTTP implements tableHandler's http.Handler interface
func (t *tableHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	rows, err := t.db.Queryx(t.query)
	if err != nil {
		t.log.Printf("unable to run query %q, error: %v", t.query, err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := rows.Close(); err != nil {
			t.log.Printf("error closing rows for %q, error: %v", t.query, err)
		}
	}()

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			t.log.Printf("unable to scan row for %q, error: %v", t.query, err)
			http.Error(w, "Error serving request", http.StatusInternalServerError)
			return
		}
		results = append(results, presentableRow(row))
	}
	if err := rows.Err(); err != nil {
		t.log.Printf("error iterating rows for %q, error: %v", t.query, err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(results); err != nil {
		t.log.Printf("error writing response for %q, error: %v", t.query, err)
	}
}

// presentableRow rewrites driver byte slices as strings so text and geometry
// columns encode as JSON strings instead of base64 blobs.
func presentableRow(row map[string]interface{}) map[string]interface{} {
	for key, value := range row {
		if raw, ok := value.([]byte); ok {
			row[key] = string(raw)
		}
	}
	return row
}

// endpoints maps URL paths to the relation each one serves.
func endpoints() map[string]string {
	return map[string]string{
		"/api/pois":                      "pois",
		"/api/predicted_pois_sequence":   "predicted_pois_sequence",
		"/api/astar_routes":              "astar_routes",
		"/api/mapf_routes":               "mapf_routes",
		"/api/optimized_routes":          "optimized_routes",
		"/api/reroutes":                  "reroutes",
		"/api/trajectories":              "trajectories",
		"/api/stop_points":               "gtfs_stops",
		"/api/view_departure_candidates": "view_departure_candidates",
		"/api/view_combined_pois":        "view_combined_pois",
		"/api/view_routes_live":          "view_routes_live",
		"/api/view_active_clients":       "view_active_clients_geodata",
	}
}

// createServer creates configured http.Server for the JSON surface
func createServer(log *logger.Logger, db *sqlx.DB, httpPort int) *http.Server {
	r := mux.NewRouter()
	r.Handle("/", &defaultHTTPHandler{})
	for path, relation := range endpoints() {
		r.Handle(path, makeTableHandler(log, db, relation)).Methods(http.MethodGet)
	}
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		ReadTimeout:  time.Second * 5,
		WriteTimeout: time.Second * 30,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

// Run starts the web service and terminates on shutdown signal
func Run(log *logger.Logger, db *sqlx.DB, httpPort int, shutdownSignal chan os.Signal) error {
	srv := createServer(log, db, httpPort)
	log.Printf("Starting server on port %d", httpPort)

	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErrs:
		return err
	case <-shutdownSignal:
		log.Printf("ending webservice on shutdown signal")
		shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
		defer serverCancelFunc()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("error shutting down webservice, error:%s", err)
		}
		return nil
	}
}
