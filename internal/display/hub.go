package display

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/telemetry"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	// Messages queued for broadcast; the pipeline drops when full.
	queueSize = 64
)

// Face is one labeled box in a frame message.
type Face struct {
	Name   string `json:"name"`
	Known  bool   `json:"known"`
	Votes  int    `json:"votes"`
	Top    int    `json:"top"`
	Right  int    `json:"right"`
	Bottom int    `json:"bottom"`
	Left   int    `json:"left"`
}

// Message is what websocket clients receive.
type Message struct {
	Type      string    `json:"type"`
	Slot      int       `json:"slot"`
	Seq       uint64    `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Image     []byte    `json:"image,omitempty"`
	Faces     []Face    `json:"faces,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Value     float64   `json:"value"`
	Status    *Status   `json:"status,omitempty"`
}

// Hub is a Sink that serves the grid over HTTP and pushes updates to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	queue    chan Message

	mu        sync.Mutex
	clients   map[*websocket.Conn]*sync.Mutex
	frames    map[int][]byte
	statuses  map[int]Status
	telemetry map[telemetry.Kind]float64
	dropped   int
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:    logger.With("component", "hub"),
		queue:     make(chan Message, queueSize),
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		frames:    make(map[int][]byte),
		statuses:  make(map[int]Status),
		telemetry: make(map[telemetry.Kind]float64),
	}
}

func (h *Hub) Render(slot int, frame processor.AnnotatedFrame) {
	h.mu.Lock()
	h.frames[slot] = frame.Image
	h.mu.Unlock()

	msg := Message{Type: "frame", Slot: slot, Seq: frame.Seq, Timestamp: frame.Timestamp, Image: frame.Image}
	for _, r := range frame.Results {
		msg.Faces = append(msg.Faces, Face{
			Name:   r.Identity.Name(),
			Known:  r.Identity.IsKnown(),
			Votes:  r.Votes,
			Top:    r.Detection.Box.Top,
			Right:  r.Detection.Box.Right,
			Bottom: r.Detection.Box.Bottom,
			Left:   r.Detection.Box.Left,
		})
	}
	h.enqueue(msg)
}

func (h *Hub) UpdateTelemetry(kind telemetry.Kind, value float64) {
	h.mu.Lock()
	h.telemetry[kind] = value
	h.mu.Unlock()
	h.enqueue(Message{Type: "telemetry", Kind: string(kind), Value: value})
}

func (h *Hub) StreamStatus(s Status) {
	h.mu.Lock()
	h.statuses[s.Slot] = s
	h.mu.Unlock()
	h.enqueue(Message{Type: "status", Slot: s.Slot, Status: &s})
}

func (h *Hub) enqueue(msg Message) {
	if h.ClientCount() == 0 {
		return
	}
	select {
	case h.queue <- msg:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// Router exposes the hub's endpoints.
func (h *Hub) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Get("/telemetry", h.handleTelemetry)
	r.Get("/snapshot/{slot}", h.handleSnapshot)
	r.Get("/ws", h.handleWS)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go h.broadcast(ctx)

	h.logger.Info("serving", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	streams := make([]Status, 0, len(h.statuses))
	for slot := 0; slot < 4; slot++ {
		if s, ok := h.statuses[slot]; ok {
			streams = append(streams, s)
		}
	}
	payload := map[string]any{
		"streams":    streams,
		"ws_clients": len(h.clients),
		"dropped":    h.dropped,
	}
	h.mu.Unlock()
	writeJSON(w, payload)
}

func (h *Hub) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	payload := make(map[string]float64, len(h.telemetry))
	for k, v := range h.telemetry {
		payload[string(k)] = v
	}
	h.mu.Unlock()
	writeJSON(w, payload)
}

func (h *Hub) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		http.Error(w, "invalid slot", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	img := h.frames[slot]
	h.mu.Unlock()
	if len(img) == 0 {
		http.Error(w, "no frame yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(img)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	var statuses []Status
	for slot := 0; slot < 4; slot++ {
		if s, ok := h.statuses[slot]; ok {
			statuses = append(statuses, s)
		}
	}
	h.mu.Unlock()

	for _, s := range statuses {
		_ = h.write(conn, writeMu, Message{Type: "status", Slot: s.Slot, Status: &s})
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					writeMu.Lock()
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					err := conn.WriteMessage(websocket.PingMessage, nil)
					writeMu.Unlock()
					if err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.removeClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.queue:
			h.mu.Lock()
			targets := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
			for c, m := range h.clients {
				targets[c] = m
			}
			h.mu.Unlock()

			for conn, writeMu := range targets {
				if err := h.write(conn, writeMu, msg); err != nil {
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, writeMu *sync.Mutex, msg Message) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// ClientCount reports connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
