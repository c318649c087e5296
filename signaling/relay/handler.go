package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 5 * time.Second

// Handler owns websocket transport for the relay, generalized from the
// teacher's ws.Handler (server/internal/ws/handler.go) down to pure
// signaling forwarding: one Hub of Rooms instead of a ChannelState, no
// store, no REST surface.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the relay's websocket route on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	slog.Debug("relay: ws upgrade request", "remote", remoteAddr)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("relay: ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, remoteAddr)
	return nil
}

// serveConn implements spec §6.2's connection lifecycle: the first message
// must be a hello naming {roomId, from}; the relay then joins that peer to
// the room, sends it the current roster, broadcasts the updated roster to
// everyone else, and forwards every subsequent envelope by its `to` field
// (or broadcasts it when `to` is empty) until the socket closes, at which
// point the peer is evicted and the roster rebroadcast.
func (h *Handler) serveConn(conn *websocket.Conn, remoteAddr string) {
	defer conn.Close()

	conn.SetReadLimit(1 << 20)

	var hello Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		slog.Debug("relay: ws read hello failed", "remote", remoteAddr, "err", err)
		return
	}
	if hello.RoomId == "" || hello.From == "" {
		slog.Debug("relay: ws bad hello", "remote", remoteAddr)
		h.writeDirectError(conn, "hello requires roomId and from")
		return
	}

	room := h.hub.RoomFor(hello.RoomId)
	session, _ := room.Join(hello.From, 64)

	slog.Info("relay: ws connected", "room", hello.RoomId, "peer", hello.From, "remote", remoteAddr)

	defer func() {
		empty := room.Leave(hello.From)
		slog.Info("relay: ws disconnected", "room", hello.RoomId, "peer", hello.From, "remote", remoteAddr)
		if !empty {
			room.BroadcastRoster()
		}
	}()

	go func() {
		for out := range session.Send {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(out); err != nil {
				slog.Debug("relay: ws write error", "peer", hello.From, "err", err)
				return
			}
		}
		slog.Debug("relay: ws send channel closed", "peer", hello.From)
	}()

	room.BroadcastRoster()

	for {
		var in Envelope
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("relay: ws unexpected close", "peer", hello.From, "err", err)
			}
			return
		}
		h.handleInbound(room, hello.From, in)
	}
}

// handleInbound forwards one envelope from sender within room, forcing its
// `from` field to the transport-observed sender id so a peer can never
// spoof another's identity (spec §4.7's anti-spoofing rule,
// generalized from the peer manager's inbound guard to the relay itself).
func (h *Handler) handleInbound(room *Room, sender string, in Envelope) {
	in.From = sender
	in.RoomId = room.id

	switch in.Kind {
	case KindOffer, KindAnswer, KindIce:
		if in.To == "" {
			slog.Debug("relay: forward broadcast", "room", room.id, "from", sender, "kind", in.Kind)
			room.Broadcast(in, sender)
			return
		}
		if !room.SendTo(in.To, in) {
			slog.Debug("relay: forward target unknown or full", "room", room.id, "from", sender, "to", in.To)
		}

	default:
		slog.Warn("relay: ws unknown envelope kind", "room", room.id, "from", sender, "kind", in.Kind)
	}
}

func (h *Handler) writeDirectError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(Envelope{Kind: KindError, Error: msg})
}
