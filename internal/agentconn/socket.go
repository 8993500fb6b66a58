package agentconn

import "time"

// Socket is the subset of *websocket.Conn the connection runtime needs.
// Defined as an interface so tests can substitute an in-process fake
// instead of a real network socket.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
}

// Keep-alive tuning (writeWait/pongWait/pingPeriod/maxMessageSize). The
// socket receiver arms a pongWait read deadline that each pong refreshes,
// and the bus receiver loop writes a ping every pingPeriod so that deadline
// does not fire on an idle connection.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)
