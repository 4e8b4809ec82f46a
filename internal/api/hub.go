package api

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/notify"
)

// ActionFunc applies a dose action received from a connected client.
type ActionFunc func(ctx context.Context, medicineID, hhmm string, kind escalation.Kind) (escalation.Outcome, error)

// Hub fans fired reminders out to every connected /ws/reminders client and
// accepts dose actions back over the same socket. It is a cron.Sink.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool

	act    ActionFunc
	logger *zap.Logger
}

type wsClient struct {
	send chan any
	quit chan struct{}
	once sync.Once
}

func (c *wsClient) stop() {
	c.once.Do(func() { close(c.quit) })
}

func NewHub(act ActionFunc, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		act:     act,
		logger:  logger,
	}
}

func (h *Hub) Name() string { return "websocket" }

// Deliver queues p for every client. A client whose buffer is full misses
// the reminder rather than stalling the others.
func (h *Hub) Deliver(_ context.Context, p notify.Payload) error {
	msg := fiber.Map{"type": "reminder", "reminder": p}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("WebSocket client too slow, reminder dropped", zap.String("medicine_id", p.MedicineID))
		}
	}
	return nil
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.stop()
		delete(h.clients, c)
	}
}

func (h *Hub) register() *wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	c := &wsClient{send: make(chan any, 16), quit: make(chan struct{})}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

type wsAction struct {
	MedicineID string `json:"medicineId"`
	Time       string `json:"time"`
	Action     string `json:"action"`
}

func (h *Hub) serve(conn *websocket.Conn) {
	c := h.register()
	if c == nil {
		return
	}
	defer h.unregister(c)

	go func() {
		defer c.stop()
		for {
			var in wsAction
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			reply := h.handleAction(in)
			select {
			case c.send <- reply:
			case <-c.quit:
				return
			}
		}
	}()

	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.quit:
			return
		}
	}
}

func (h *Hub) handleAction(in wsAction) fiber.Map {
	if h.act == nil {
		return fiber.Map{"type": "error", "error": "actions are not accepted here"}
	}
	kind, err := escalation.ParseKind(in.Action)
	if err != nil {
		return fiber.Map{"type": "error", "error": err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	out, err := h.act(ctx, in.MedicineID, in.Time, kind)
	if err != nil {
		return fiber.Map{"type": "error", "error": err.Error()}
	}
	return fiber.Map{"type": "outcome", "outcome": out}
}
