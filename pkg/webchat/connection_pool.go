package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

// wsConn is the slice of *websocket.Conn the pool writes through.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

type poolClient struct {
	conn      wsConn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *poolClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// ConnectionPool manages websocket connections for a conversation.
// Each connection gets a buffered send queue drained by its own writer, so a
// slow client is dropped instead of stalling the broadcast.
type ConnectionPool struct {
	convID       string
	mu           sync.Mutex
	conns        map[wsConn]*poolClient
	idleTimer    *time.Timer
	idleTimeout  time.Duration
	onIdle       func()
	sendBuffer   int
	writeTimeout time.Duration
}

func NewConnectionPool(convID string, idleTimeout time.Duration, onIdle func()) *ConnectionPool {
	return &ConnectionPool{
		convID:       convID,
		conns:        map[wsConn]*poolClient{},
		idleTimeout:  idleTimeout,
		onIdle:       onIdle,
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	buf := cp.sendBuffer
	if buf <= 0 {
		buf = 1
	}
	c := &poolClient{conn: conn, send: make(chan []byte, buf), done: make(chan struct{})}
	cp.mu.Lock()
	if old, ok := cp.conns[conn]; ok {
		old.close()
	}
	cp.conns[conn] = c
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()

	go cp.writeLoop(c)
}

func (cp *ConnectionPool) writeLoop(c *poolClient) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if cp.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "webchat").Str("conv_id", cp.convID).Msg("ws write failed, dropping connection")
				cp.drop(c.conn)
				return
			}
		}
	}
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.drop(conn)
}

func (cp *ConnectionPool) drop(conn wsConn) {
	cp.mu.Lock()
	c, ok := cp.conns[conn]
	if ok {
		delete(cp.conns, conn)
	}
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
	if ok {
		c.close()
	} else {
		_ = conn.Close()
	}
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	var slow []*poolClient
	cp.mu.Lock()
	for conn, c := range cp.conns {
		if !enqueue(c, data) {
			delete(cp.conns, conn)
			slow = append(slow, c)
		}
	}
	if len(slow) > 0 {
		cp.scheduleIdleTimerLocked()
	}
	cp.mu.Unlock()
	for _, c := range slow {
		log.Warn().Str("component", "webchat").Str("conv_id", cp.convID).Msg("ws send buffer full, dropping connection")
		c.close()
	}
}

func enqueue(c *poolClient, data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	clients := make([]*poolClient, 0, len(cp.conns))
	for conn, c := range cp.conns {
		clients = append(clients, c)
		delete(cp.conns, conn)
	}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (cp *ConnectionPool) stopIdleTimerLocked() {
	if cp.idleTimer != nil {
		cp.idleTimer.Stop()
		cp.idleTimer = nil
	}
}

func (cp *ConnectionPool) scheduleIdleTimerLocked() {
	if len(cp.conns) != 0 || cp.idleTimeout <= 0 || cp.onIdle == nil {
		cp.stopIdleTimerLocked()
		return
	}
	cp.stopIdleTimerLocked()
	cp.idleTimer = time.AfterFunc(cp.idleTimeout, cp.triggerIdle)
}

func (cp *ConnectionPool) triggerIdle() {
	if cp == nil {
		return
	}
	var callback func()
	cp.mu.Lock()
	if len(cp.conns) == 0 {
		callback = cp.onIdle
	}
	cp.idleTimer = nil
	cp.mu.Unlock()
	if callback != nil {
		callback()
	}
}
