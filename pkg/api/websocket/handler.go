package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/aescanero/velodago/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventTypeSnapshot is the first message on every stream. Its data carries
// the run status and step states at connection time.
const EventTypeSnapshot domain.EventType = "run.snapshot"

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	clientBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler streams run events to WebSocket clients. It holds one bus
// subscription per topic and fans events out by run ID.
type Handler struct {
	eventBus ports.EventBus
	storage  ports.StateStorage
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// client is one connected stream. Terminal events bypass the bounded
// events buffer so they are never dropped.
type client struct {
	events   chan domain.Event
	terminal chan domain.Event
	once     sync.Once
}

func newClient() *client {
	return &client{
		events:   make(chan domain.Event, clientBuffer),
		terminal: make(chan domain.Event, 1),
	}
}

// finish hands over the run's terminal event. Only the first is kept.
func (cl *client) finish(event domain.Event) {
	cl.once.Do(func() { cl.terminal <- event })
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, storage ports.StateStorage, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		storage:  storage,
		logger:   logger,
		clients:  make(map[string]map[*client]struct{}),
	}
}

// Start subscribes to run and step events until ctx is done.
func (h *Handler) Start(ctx context.Context) error {
	for _, topic := range []string{domain.TopicRunEvents, domain.TopicStepEvents} {
		if err := h.eventBus.Subscribe(ctx, topic, h.dispatch); err != nil {
			return err
		}
	}
	return nil
}

// dispatch forwards an event to the clients of its run without blocking.
// Progress events are dropped for a client whose buffer is full.
func (h *Handler) dispatch(ctx context.Context, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for cl := range h.clients[event.RunID] {
		if isTerminal(event.Type) {
			cl.finish(event)
			continue
		}
		select {
		case cl.events <- event:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("run_id", event.RunID),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

// HandleRunStream handles WebSocket streaming for a specific run. The
// stream ends after the run's terminal event.
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	cl := newClient()
	h.register(runID, cl)
	defer h.unregister(runID, cl)

	// Registered before the snapshot is read so no event falls in between.
	state, err := h.storage.GetState(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, ports.ErrStateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "Run not found"}})
			return
		}
		h.logger.Error("failed to load run state", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "STORAGE_ERROR", "message": err.Error()}})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go h.readPump(conn, cancel)

	snapshot := domain.Event{
		ID:        uuid.New().String(),
		Type:      EventTypeSnapshot,
		RunID:     runID,
		Timestamp: time.Now(),
		Data: map[string]any{
			"status": state.Status,
			"steps":  state.Steps,
			"error":  state.Error,
		},
	}
	if err := writeEvent(conn, snapshot); err != nil {
		h.logger.Error("failed to write message", zap.Error(err))
		return
	}
	if state.Status.IsTerminal() {
		closeNormally(conn)
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case event := <-cl.events:
			if err := writeEvent(conn, event); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}

		case event := <-cl.terminal:
			if err := flush(conn, cl); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
			if err := writeEvent(conn, event); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
			closeNormally(conn)
			return
		}
	}
}

// flush writes the progress events still buffered for cl
func flush(conn *websocket.Conn, cl *client) error {
	for {
		select {
		case event := <-cl.events:
			if err := writeEvent(conn, event); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// readPump discards client messages and cancels when the peer goes away
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) register(runID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[runID] == nil {
		h.clients[runID] = make(map[*client]struct{})
	}
	h.clients[runID][cl] = struct{}{}
}

func (h *Handler) unregister(runID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients[runID], cl)
	if len(h.clients[runID]) == 0 {
		delete(h.clients, runID)
	}
}

func writeEvent(conn *websocket.Conn, event domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func isTerminal(t domain.EventType) bool {
	return t == domain.EventTypeRunCompleted ||
		t == domain.EventTypeRunFailed ||
		t == domain.EventTypeRunCancelled
}
