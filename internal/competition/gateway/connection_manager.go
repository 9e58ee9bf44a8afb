// Package gateway is the realtime edge: it upgrades websocket
// connections, routes client frames into the engine, and fans bus
// events out to every connection in a competition room. Connections
// join unbound and enter a room only after a successful join frame.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionConfig holds websocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Connection is one websocket client. It starts unbound; Bind attaches
// it to a competition room once the join (or organizer) handshake
// succeeds.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time

	mu            sync.Mutex
	competitionID uuid.UUID
	bound         bool
	organizer     bool
}

// Bind attaches the connection to a competition room.
func (c *Connection) Bind(competitionID uuid.UUID, organizer bool) {
	c.mu.Lock()
	c.competitionID = competitionID
	c.bound = true
	c.organizer = organizer
	c.mu.Unlock()
	c.Manager.register(c, competitionID)
}

// Binding returns the room and role of the connection.
func (c *Connection) Binding() (competitionID uuid.UUID, bound, organizer bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.competitionID, c.bound, c.organizer
}

// BroadcastMessage carries one pre-marshalled event to a room.
type BroadcastMessage struct {
	CompetitionID uuid.UUID
	Data          []byte
}

// ConnectionManager owns the rooms and the single broadcast loop.
// OnMessage and OnDisconnect are wired by the Handler before Start.
type ConnectionManager struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Connection]bool

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	broadcastCh chan BroadcastMessage

	OnMessage    func(c *Connection, data []byte)
	OnDisconnect func(c *Connection)
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start runs the broadcast loop until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade turns an HTTP request into a managed websocket connection.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	go c.writePump()
	go c.readPump()

	log.Info().Str("connection_id", c.ID).Msg("websocket connection established")
	return c, nil
}

func (cm *ConnectionManager) register(c *Connection, competitionID uuid.UUID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[competitionID] == nil {
		cm.rooms[competitionID] = make(map[*Connection]bool)
	}
	cm.rooms[competitionID][c] = true

	log.Debug().
		Str("connection_id", c.ID).
		Str("competition_id", competitionID.String()).
		Int("room_size", len(cm.rooms[competitionID])).
		Msg("connection joined room")
}

func (cm *ConnectionManager) unregister(c *Connection) {
	competitionID, bound, _ := c.Binding()

	cm.mu.Lock()
	if bound {
		if room, ok := cm.rooms[competitionID]; ok {
			if _, ok := room[c]; ok {
				delete(room, c)
				if len(room) == 0 {
					delete(cm.rooms, competitionID)
				}
			}
		}
	}
	cm.mu.Unlock()

	if cm.OnDisconnect != nil {
		cm.OnDisconnect(c)
	}
}

// Broadcast queues data for every connection in a room. Drops the
// message when the queue is saturated rather than blocking the caller.
func (cm *ConnectionManager) Broadcast(competitionID uuid.UUID, data []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{CompetitionID: competitionID, Data: data}:
	default:
		log.Warn().Str("competition_id", competitionID.String()).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	room, ok := cm.rooms[message.CompetitionID]
	if !ok {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.Send <- message.Data:
		default:
			log.Warn().Str("connection_id", c.ID).Msg("send buffer full, closing connection")
			cm.unregister(c)
			c.Conn.Close()
		}
	}
}

// RoomSize reports the live connection count of a competition room.
func (cm *ConnectionManager) RoomSize(competitionID uuid.UUID) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.rooms[competitionID])
}

// Stats summarizes live rooms for the health endpoint.
func (cm *ConnectionManager) Stats() (connections, rooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, room := range cm.rooms {
		connections += len(room)
	}
	return connections, len(cm.rooms)
}

// SendJSON marshals a direct frame onto the connection's queue.
func (c *Connection) SendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal frame")
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping direct frame")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		if c.Manager.OnMessage != nil {
			c.Manager.OnMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
