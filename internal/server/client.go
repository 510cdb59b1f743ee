package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/teleclinic/teleclinic/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

type Client struct {
	conn      *websocket.Conn
	srv       *SignalServer
	log       *logrus.Logger
	user      types.User
	send      chan *ServerMessage
	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, s *SignalServer, l *logrus.Logger) *Client {
	return &Client{
		conn:  conn,
		srv:   s,
		log:   l,
		user:  user,
		send:  make(chan *ServerMessage, 256),
		rooms: make(map[string]*Room),
		stop:  make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Printf("panic in connection handler for user %d: %v", c.user.Id, rec)
		}
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

// dispatch routes one inbound envelope: role gates are checked here so a
// mismatched operation is rejected before it reaches any shared state.
func (c *Client) dispatch(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		c.joinRoom(msg)
	case msg.Chat != nil:
		if msg.Chat.Content == "" {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		c.forwardToRoom(msg, msg.Chat.RoomId)
	case msg.Request != nil:
		if c.user.Role != types.RolePatient {
			c.log.Printf("user %d (%s) attempted a patient-only request", c.user.Id, c.user.Role)
			c.queueMessage(ErrForbidden(msg.Id))
			return
		}
		c.forwardConsult(msg)
	case msg.Accept != nil:
		if c.user.Role != types.RoleDoctor {
			c.log.Printf("user %d (%s) attempted a doctor-only accept", c.user.Id, c.user.Role)
			c.queueMessage(ErrForbidden(msg.Id))
			return
		}
		c.forwardConsult(msg)
	case msg.Offer != nil:
		c.forwardToRoom(msg, msg.Offer.RoomId)
	case msg.Answer != nil:
		c.forwardToRoom(msg, msg.Answer.RoomId)
	case msg.Candidate != nil:
		c.forwardToRoom(msg, msg.Candidate.RoomId)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// forwardToRoom hands a chat or signaling envelope to a room the client
// has joined. Events for rooms the client is not a member of are
// rejected without touching the room.
func (c *Client) forwardToRoom(msg *ClientMessage, roomId string) {
	r := c.getRoom(roomId)
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		c.log.Printf("clientMsgChan full for room %q", r.id)
	}
}

func (c *Client) forwardConsult(msg *ClientMessage) {
	select {
	case c.srv.consultChan <- msg:
	default:
		c.log.Println("consultChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	select {
	case c.srv.joinChan <- msg:
	default:
		c.log.Println("joinChan full")
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	// after the run loop has exited it deregisters remaining clients
	// itself, so don't wait on a channel nobody is reading
	select {
	case c.srv.DeRegisterChan <- c:
	case <-c.srv.done:
	}
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		room.leaveChan <- &ClientMessage{
			UserId: c.user.Id,
			client: c,
		}
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.id] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if room, ok := c.rooms[id]; ok {
		return room
	}

	return nil
}
