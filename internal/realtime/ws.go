package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 512
)

// clientRequest is the inbound control message shape:
// {"action":"subscribe","topic":"risk","address":"0x.."}.
type clientRequest struct {
	Action  string `json:"action"`
	Topic   string `json:"topic"`
	Address string `json:"address,omitempty"`
}

// WSServer upgrades HTTP connections and bridges them onto the hub.
type WSServer struct {
	hub      *Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSServer builds a websocket front for the hub.
func NewWSServer(hub *Hub, logger zerolog.Logger) *WSServer {
	return &WSServer{
		hub:    hub,
		logger: logger.With().Str("component", "realtime_ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and runs the connection until it closes.
// Disconnecting removes every membership the connection held.
func (s *WSServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.NewString()
	queue := s.hub.Attach(clientID)

	go s.writePump(conn, clientID, queue)
	s.readPump(conn, clientID)
}

func (s *WSServer) readPump(conn *websocket.Conn, clientID string) {
	defer func() {
		s.hub.Detach(clientID)
		conn.Close()
	}()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req clientRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.logger.Debug().Err(err).Str("client", clientID).Msg("ignoring malformed control message")
			continue
		}

		topic := resolveTopic(req)
		if topic == "" {
			continue
		}
		switch req.Action {
		case "subscribe":
			if err := s.hub.Subscribe(clientID, topic); err != nil {
				s.logger.Debug().Err(err).Str("client", clientID).Msg("subscribe rejected")
			}
		case "unsubscribe":
			s.hub.Unsubscribe(clientID, topic)
		}
	}
}

func (s *WSServer) writePump(conn *websocket.Conn, clientID string, queue <-chan Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// resolveTopic maps the wire shape onto room names. Address-scoped topics
// require the address; global topics ignore it.
func resolveTopic(req clientRequest) string {
	switch req.Topic {
	case TopicAVSUpdates, TopicMarketData:
		return req.Topic
	case "risk":
		if req.Address == "" {
			return ""
		}
		return RiskTopic(req.Address)
	case "portfolio":
		if req.Address == "" {
			return ""
		}
		return PortfolioTopic(req.Address)
	default:
		// unknown topics are legal; room is created on demand
		return req.Topic
	}
}
