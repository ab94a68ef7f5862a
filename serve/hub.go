package serve

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"framewatch/report"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second

	// Reports buffered per client before that client starts missing them.
	clientBuffer = 16
)

// Hub streams every published report as a JSON text message to connected
// websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	cs       map[chan []byte]bool
	addc     chan chan []byte
	delc     chan chan []byte
	msgc     chan []byte
	countc   chan chan int
	done     chan struct{}
}

func NewHub() *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cs:     make(map[chan []byte]bool),
		addc:   make(chan chan []byte),
		delc:   make(chan chan []byte),
		msgc:   make(chan []byte, clientBuffer),
		countc: make(chan chan int),
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.done:
			return
		case c := <-h.addc:
			h.cs[c] = true
		case c := <-h.delc:
			delete(h.cs, c)
		case r := <-h.countc:
			r <- len(h.cs)
		case msg := <-h.msgc:
			for c := range h.cs {
				select {
				case c <- msg:
				default:
					// Client is behind; drop.
				}
			}
		}
	}
}

// Publish implements report.Publisher. It never blocks the caller.
func (h *Hub) Publish(r *report.Report) {
	js, err := json.Marshal(r)
	if err != nil {
		log.Errorf("Failed to encode report for frame %d: %v", r.Frame, err)
		return
	}
	select {
	case h.msgc <- js:
	default:
		log.Debugf("Report stream backlogged, dropping frame %d", r.Frame)
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	r := make(chan int)
	select {
	case h.countc <- r:
		return <-r
	case <-h.done:
		return 0
	}
}

// Close stops fanning out reports. Connected clients stop receiving updates.
func (h *Hub) Close() {
	close(h.done)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for report stream: %v", err)
		}
		return
	}
	go h.serve(ws)
}

func (h *Hub) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to report stream")
	defer func() {
		ws.Close()
		clog.Info("disconnected from report stream")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	c := make(chan []byte, clientBuffer)
	select {
	case h.addc <- c:
	case <-h.done:
		return
	}
	defer func() {
		select {
		case h.delc <- c:
		case <-h.done:
		}
	}()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-h.done:
			return
		case msg := <-c:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
