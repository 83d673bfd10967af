package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"image/png"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryanchriswhite/feedview/internal/config"
	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/bryanchriswhite/feedview/internal/output"
	"github.com/bryanchriswhite/feedview/internal/overlay"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/nfnt/resize"
)

// MaxSnapshotWidth bounds the width a snapshot may be scaled to
const MaxSnapshotWidth = 4096

// StatsProvider reports pipeline counters. *frame.Pipeline implements it.
type StatsProvider interface {
	Stats() frame.Stats
}

// Options wires the server to the running session. Any field may be nil;
// the routes that need it then answer 503.
type Options struct {
	Stats   StatsProvider
	Config  *config.Manager
	MJPEG   *output.MJPEGOutput
	Latest  *output.Latest
	Outputs *output.Fanout
	Overlay *overlay.Manager
	Metrics http.Handler

	// StatsInterval is the push period of /api/stats/ws
	StatsInterval time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	opts     Options
	upgrader websocket.Upgrader

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the viewer may be opened from any host
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Pipeline state
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/stats/ws", s.handleStatsStream)
	api.HandleFunc("/stream/status", s.handleStreamStatus).Methods("GET")
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	// Overlay widgets
	api.HandleFunc("/overlay/types", s.handleOverlayTypes).Methods("GET")
	api.HandleFunc("/overlay/widgets", s.handleGetWidgets).Methods("GET")
	api.HandleFunc("/overlay/widgets", s.handleCreateWidget).Methods("POST")
	api.HandleFunc("/overlay/widgets/{id}", s.handleUpdateWidget).Methods("PUT")
	api.HandleFunc("/overlay/widgets/{id}", s.handleDeleteWidget).Methods("DELETE")

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods("GET")
	}

	if s.opts.MJPEG != nil {
		s.router.HandleFunc("/stream", s.opts.MJPEG.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/", s.opts.MJPEG.GetViewerHandler()).Methods("GET")
	}
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves HTTP on port until Shutdown is called
func (s *Server) Start(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(l)
}

// Serve serves HTTP on l until Shutdown is called
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return l.Close()
	}
	s.http = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", l.Addr().String()).Msg("Starting server")
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
// An open /stream request only ends when the MJPEG output stops, so stop the
// outputs first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func unavailable(w http.ResponseWriter, what string) {
	http.Error(w, what+" not available", http.StatusServiceUnavailable)
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		unavailable(w, "pipeline")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Stats.Stats())
}

// handleStatsStream pushes pipeline stats over a websocket until the client
// goes away
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stats == nil {
		unavailable(w, "pipeline")
		return
	}

	log := logger.WithComponent("api")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Reading is only needed to notice the close frame
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.opts.Stats.Stats()); err != nil {
			log.Debug().Err(err).Msg("WebSocket write failed")
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// OutputStatus reports one presentation output
type OutputStatus struct {
	Name     string `json:"name"`
	Running  bool   `json:"running"`
	Failures uint64 `json:"failures"`
}

// StreamStatus is the body of /api/stream/status
type StreamStatus struct {
	MJPEG   output.MJPEGStats `json:"mjpeg"`
	Outputs []OutputStatus    `json:"outputs"`
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	status := StreamStatus{Outputs: []OutputStatus{}}
	if s.opts.MJPEG != nil {
		status.MJPEG = s.opts.MJPEG.Stats()
	}
	if s.opts.Outputs != nil {
		failures := s.opts.Outputs.Errors()
		for _, o := range s.opts.Outputs.Outputs() {
			status.Outputs = append(status.Outputs, OutputStatus{
				Name:     o.Name(),
				Running:  o.IsRunning(),
				Failures: failures[o.Name()],
			})
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSnapshot serves the latest frame, optionally scaled to ?width=
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Latest == nil {
		unavailable(w, "snapshot")
		return
	}
	img, received, _ := s.opts.Latest.Frame()
	if img == nil {
		http.Error(w, "no frame received yet", http.StatusNotFound)
		return
	}

	if v := r.URL.Query().Get("width"); v != "" {
		width, err := strconv.Atoi(v)
		if err != nil || width <= 0 || width > MaxSnapshotWidth {
			http.Error(w, fmt.Sprintf("width must be between 1 and %d", MaxSnapshotWidth), http.StatusBadRequest)
			return
		}
		img = resize.Resize(uint(width), 0, img, resize.Lanczos3)
	}

	format := r.URL.Query().Get("format")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", received.UTC().Format(http.TimeFormat))
	switch format {
	case "", "jpeg", "jpg":
		w.Header().Set("Content-Type", "image/jpeg")
		err := jpeg.Encode(w, img, &jpeg.Options{Quality: output.DefaultQuality})
		logEncodeError(err)
	case "png":
		w.Header().Set("Content-Type", "image/png")
		logEncodeError(png.Encode(w, img))
	default:
		http.Error(w, fmt.Sprintf("unsupported format: %s (use jpeg or png)", format), http.StatusBadRequest)
	}
}

func logEncodeError(err error) {
	if err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to write snapshot")
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		unavailable(w, "config")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

// handleUpdateConfig stores a new configuration. The frame section is
// validated up front; changes take effect on the next session.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		unavailable(w, "config")
		return
	}

	cfg := config.Defaults()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := cfg.Frame.Spec(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.opts.Config.Update(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleOverlayTypes(w http.ResponseWriter, r *http.Request) {
	if s.opts.Overlay == nil {
		unavailable(w, "overlay")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Overlay.GetAvailableWidgetTypes())
}

func (s *Server) handleGetWidgets(w http.ResponseWriter, r *http.Request) {
	if s.opts.Overlay == nil {
		unavailable(w, "overlay")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Overlay.ExportConfig())
}

func (s *Server) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	if s.opts.Overlay == nil {
		unavailable(w, "overlay")
		return
	}

	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	widgetType, _ := req["type"].(string)
	id, _ := req["id"].(string)
	if widgetType == "" || id == "" {
		http.Error(w, "widget requires type and id", http.StatusBadRequest)
		return
	}

	widget, err := s.opts.Overlay.CreateWidget(widgetType, id, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.opts.Overlay.AddWidget(widget); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, widget.GetConfig())
}

func (s *Server) handleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	if s.opts.Overlay == nil {
		unavailable(w, "overlay")
		return
	}

	id := mux.Vars(r)["id"]
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, ok := s.opts.Overlay.GetWidget(id); !ok {
		http.Error(w, "widget not found", http.StatusNotFound)
		return
	}
	if err := s.opts.Overlay.UpdateWidget(id, req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	widget, _ := s.opts.Overlay.GetWidget(id)
	writeJSON(w, http.StatusOK, widget.GetConfig())
}

func (s *Server) handleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	if s.opts.Overlay == nil {
		unavailable(w, "overlay")
		return
	}

	if err := s.opts.Overlay.RemoveWidget(mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
