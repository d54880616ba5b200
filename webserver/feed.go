package webserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	FEED_WRITE_WAIT  = 10 * time.Second
	FEED_PONG_WAIT   = 60 * time.Second
	FEED_PING_PERIOD = (FEED_PONG_WAIT * 9) / 10
	FEED_BUFFER      = 32
)

// FeedEvent is one store change pushed to websocket clients
type FeedEvent struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ts      int64       `json:"ts"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed fans store events out to every connected websocket. A client that
// cannot keep up is dropped rather than slowing the stores down.
type Feed struct {
	upgrader websocket.Upgrader
	clients  map[*feedClient]bool
	closed   bool
	lock     sync.Mutex
}

func NewFeed() *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]bool),
	}
}

// Publish implements stores.Publisher
func (f *Feed) Publish(event string, payload interface{}) {

	msg, err := json.Marshal(FeedEvent{Event: event, Payload: payload, Ts: time.Now().Unix()})
	if err != nil {
		log.WithError(err).WithField("Event", event).Error("Unable to encode feed event")
		return
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			log.Debug("Dropping slow feed client")
			f.remove(c)
		}
	}
}

// remove must be called with the lock held
func (f *Feed) remove(c *feedClient) {
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *Feed) Clients() int {
	f.lock.Lock()
	defer f.lock.Unlock()

	return len(f.clients)
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("Feed upgrade failed")
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, FEED_BUFFER)}

	f.lock.Lock()
	if f.closed {
		f.lock.Unlock()
		conn.Close()
		return
	}
	f.clients[c] = true
	f.lock.Unlock()

	log.WithField("Remote", r.RemoteAddr).Debug("Feed client connected")

	go f.writeLoop(c)
	f.readLoop(c)
}

// readLoop only watches for the close; clients never send anything useful
func (f *Feed) readLoop(c *feedClient) {

	defer func() {
		f.lock.Lock()
		f.remove(c)
		f.lock.Unlock()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(FEED_PONG_WAIT))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(FEED_PONG_WAIT))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writeLoop(c *feedClient) {

	ticker := time.NewTicker(FEED_PING_PERIOD)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(FEED_WRITE_WAIT))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(FEED_WRITE_WAIT))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and refuses new ones
func (f *Feed) Close() {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.closed = true
	for c := range f.clients {
		f.remove(c)
	}
}
