package realtime

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebsocketTransport adapts a gorilla connection to the Transport interface.
// gorilla permits one concurrent writer, so writes are serialized here.
type WebsocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebsocketTransport(conn *websocket.Conn) *WebsocketTransport {
	return &WebsocketTransport{conn: conn}
}

func (t *WebsocketTransport) WriteMessage(m Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(m)
}

func (t *WebsocketTransport) ReadMessage() (Message, error) {
	var m Message
	if err := t.conn.ReadJSON(&m); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (t *WebsocketTransport) Close() error {
	return t.conn.Close()
}

// HandlerConfig configures the websocket entry point.
type HandlerConfig struct {
	// AuthToken, when set, must match the "token" query parameter.
	AuthToken    string
	AllowOrigins []string
}

// Handler returns the HTTP upgrade endpoint for the hub. Clients identify
// with user_id and optional project_id query parameters.
func Handler(hub *Hub, cfg HandlerConfig) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(cfg.AllowOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range cfg.AllowOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	logger := slog.Default().With("component", "realtime")

	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.AuthToken != "" && r.URL.Query().Get("token") != cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}
		projectID := r.URL.Query().Get("project_id")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		userInfo := map[string]any{"user_name": r.URL.Query().Get("user_name")}
		if _, err := hub.Connect(NewWebsocketTransport(conn), userID, projectID, userInfo); err != nil {
			logger.Warn("connect rejected", "user_id", userID, "error", err)
			conn.Close()
		}
	}
}
