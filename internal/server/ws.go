package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"lanmsg/internal/relay"
	"lanmsg/internal/storage"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// wsHandler upgrades "/ws/{user_id}" requests and hands the connection to
// the relay engine for the lifetime of the channel.
type wsHandler struct {
	logger   *zap.SugaredLogger
	engine   *relay.Engine
	users    UserDirectory
	upgrader websocket.Upgrader
}

func newWSHandler(logger *zap.SugaredLogger, engine *relay.Engine, users UserDirectory) *wsHandler {
	return &wsHandler{
		logger: logger,
		engine: engine,
		users:  users,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// closed local network, origins are not filtered
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Path[len("/ws/"):], 10, 64)
	if err != nil || userID < 1 {
		http.Error(w, "Path must carry a valid user id greater than zero", http.StatusBadRequest)
		return
	}

	if _, err := h.users.UserByID(r.Context(), userID); err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			http.Error(w, "User does not exist", http.StatusNotFound)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("Upgrading connection of user %d: %v", userID, err)
		return
	}

	// the request context ends with this handler; the connection outlives
	// neither, but presence writes during teardown must not be cancelled
	// with it
	h.engine.Run(context.Background(), userID, newWSConn(conn))
}

// wsConn adapts a websocket connection to the relay.Channel contract:
// writes are serialized and deadline-bound, Close is idempotent and
// unblocks a pending Read.
type wsConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}
