package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/logger"
	"github.com/funnyzak/trafficcmp/internal/storage"
)

const (
	defaultListLimit = 100
	contentTypeJSON  = "application/json"
)

// Service serves stored triples over HTTP and pushes new ones to websocket clients.
type Service struct {
	cfg     *config.ServerConfig
	logger  logger.Logger
	store   storage.Store
	hub     *WebsocketHub
	formats []string
}

// NewService builds a Service on top of store.
func NewService(cfg *config.ServerConfig, store storage.Store, log logger.Logger) *Service {
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:     cfg,
		logger:  log,
		store:   store,
		hub:     NewWebsocketHub(log),
		formats: AllowedFormats(cfg.ExportFormats),
	}
}

// RegisterRoutes wires API routes into the provided router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	api := router
	if base := normalizePath(s.cfg.APIPath); base != "/" {
		api = router.PathPrefix(base).Subrouter()
	}
	api.HandleFunc("/triples", s.handleTriples).Methods(http.MethodGet)
	api.HandleFunc("/triples/{id}", s.handleTriple).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebsocket).Methods(http.MethodGet)
}

// Publish pushes a freshly stored triple to websocket clients.
func (s *Service) Publish(triple *StoredTriple) {
	if s == nil || triple == nil {
		return
	}
	s.hub.Broadcast(map[string]interface{}{
		"type": "triple",
		"data": triple,
	})
}

// Close releases resources.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.hub.Close()
}

func (s *Service) handleTriples(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts.Limit = parseIntDefault(r.URL.Query().Get("limit"), defaultListLimit)
	if maxLimit := s.cfg.MaxListLimit; maxLimit > 0 && (opts.Limit <= 0 || opts.Limit > maxLimit) {
		opts.Limit = maxLimit
	}
	opts.Offset = parseIntDefault(r.URL.Query().Get("offset"), 0)

	items, total, err := s.store.List(opts)
	if err != nil {
		s.logger.Error("Failed to list triples", "error", err)
		http.Error(w, "Failed to list triples", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*StoredTriple{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":   items,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

func (s *Service) handleTriple(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	triple, err := s.store.Get(id)
	if err != nil {
		s.logger.Error("Failed to load triple", "error", err, "id", id)
		http.Error(w, "Failed to load triple", http.StatusInternalServerError)
		return
	}
	if triple == nil {
		http.NotFound(w, r)
		return
	}
	s.respondJSON(w, http.StatusOK, triple)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	_, total, err := s.store.List(ListOptions{Limit: 1})
	if err != nil {
		s.logger.Error("Failed to count triples", "error", err)
		http.Error(w, "Failed to count triples", http.StatusInternalServerError)
		return
	}
	_, mismatched, err := s.store.List(ListOptions{Mismatched: true, Limit: 1})
	if err != nil {
		s.logger.Error("Failed to count mismatched triples", "error", err)
		http.Error(w, "Failed to count triples", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":             total,
		"status_mismatches": mismatched,
		"clients":           s.hub.Clients(),
	})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "json"
	}
	if !containsFormat(s.formats, format) {
		http.Error(w, fmt.Sprintf("Unsupported export format: %s", format), http.StatusBadRequest)
		return
	}
	contentType, ext, err := DescribeFormat(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	filename := fmt.Sprintf("trafficcmp_triples_%d.%s", time.Now().Unix(), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)

	var iterErr error
	items := func(yield func(*StoredTriple) bool) {
		iterErr = s.store.Iterate(opts, yield)
	}
	if _, _, err := StreamExport(w, items, format); err != nil {
		s.logger.Error("Export failed", "error", err)
		return
	}
	if iterErr != nil {
		s.logger.Error("Export failed", "error", iterErr)
	}
}

func (s *Service) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.hub.Upgrade(w, r); err != nil {
		s.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// listOptions reads the filter parameters shared by list and export.
func listOptions(r *http.Request) (ListOptions, error) {
	query := r.URL.Query()
	opts := ListOptions{
		Search: query.Get("search"),
		Method: query.Get("method"),
	}
	if raw := query.Get("mismatched"); raw != "" {
		mismatched, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid mismatched value: %s", raw)
		}
		opts.Mismatched = mismatched
	}
	return opts, nil
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}

	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return def
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func containsFormat(formats []string, target string) bool {
	for _, f := range formats {
		if f == target {
			return true
		}
	}
	return false
}
