package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/nsescan/internal/events"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub tracks websocket clients of /ws/events. Each client subscribes to the
// event bus and receives every event as a JSON text frame.
type hub struct {
	api API

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	hub         *hub
	conn        *websocket.Conn
	send        chan events.Event
	unsubscribe func()
	closeOnce   sync.Once
	done        chan struct{}
}

func newHub(api API) *hub {
	return &hub{api: api, clients: make(map[*client]struct{})}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("request_id", RequestID(r.Context())).Msg("Websocket upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan events.Event, sendBuffer),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Debug().Str("remote", r.RemoteAddr).Int("clients", n).Msg("Websocket client connected")

	c.unsubscribe = h.api.ScanSubscribe(c.deliver)

	go c.writePump()
	go c.readPump()
}

// Clients returns the number of connected websocket clients
func (h *hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// deliver runs on the publisher's goroutine and must not block
func (c *client) deliver(e events.Event) {
	select {
	case <-c.done:
	case c.send <- e:
	default:
		log.Warn().Str("remote", c.conn.RemoteAddr().String()).Msg("Websocket client too slow, dropping")
		go c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.hub.remove(c)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
