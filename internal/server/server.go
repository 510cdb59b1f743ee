package server

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/stats"
)

// SignalServer owns the loaded rooms and serializes room lifecycle,
// consultation handshakes, and presence registration through its run
// loop. Connection pumps hand events over on channels.
type SignalServer struct {
	log            *logrus.Logger
	db             database.Repository
	registry       *PresenceRegistry
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	consultChan    chan *ClientMessage
	RegisterChan   chan *Client
	DeRegisterChan chan *Client
	unloadRoomChan chan string
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewSignalServer(logger *logrus.Logger, db database.Repository, registry *PresenceRegistry, sp stats.StatsProvider) (*SignalServer, error) {
	sp.RegisterMetric(stats.ActiveConnections)
	sp.RegisterMetric(stats.ActiveRooms)
	sp.RegisterMetric(stats.ChatMessages)
	sp.RegisterMetric(stats.SignalsRelayed)

	return &SignalServer{
		log:            logger,
		db:             db,
		registry:       registry,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		joinChan:       make(chan *ClientMessage, 256),
		consultChan:    make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client),
		DeRegisterChan: make(chan *Client),
		unloadRoomChan: make(chan string),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (s *SignalServer) Run() {
	for {
		select {
		case joinMsg := <-s.joinChan:
			s.handleJoin(joinMsg)
		case msg := <-s.consultChan:
			switch {
			case msg.Request != nil:
				s.handleConsultRequest(msg)
			case msg.Accept != nil:
				s.handleConsultAccept(msg)
			}
		case client := <-s.RegisterChan:
			s.handleRegister(client)
		case client := <-s.DeRegisterChan:
			s.handleDeRegister(client)
		case id := <-s.unloadRoomChan:
			s.unloadRoom(id)
		case <-s.stop:
			s.log.Println("shutting down rooms")
			for id, r := range s.rooms {
				close(r.exit)
				<-r.done
				delete(s.rooms, id)
			}

			// connections that have not reached their own cleanup yet
			// must still come off the presence records
			s.clientsLock.Lock()
			for c := range s.clients {
				delete(s.clients, c)
				s.stats.Decr(stats.ActiveConnections)
				if err := s.registry.Unregister(c); err != nil {
					s.log.Println("unregister presence:", err)
				}
			}
			s.clientsLock.Unlock()

			close(s.done)
			return
		}
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (s *SignalServer) RegisterClient(c *Client) {
	s.RegisterChan <- c
}

func (s *SignalServer) handleRegister(c *Client) {
	s.addClient(c)
	s.stats.Incr(stats.ActiveConnections)

	if err := s.registry.Register(c); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.log.Printf("rejecting connection for unknown user %d (%s)", c.user.Id, c.user.Role)
			c.queueMessage(ErrNotFound(0))
		} else {
			s.log.Println("register presence:", err)
			c.queueMessage(ErrInternalError(0))
		}
		c.stopClient()
		return
	}

	s.log.Printf("added connection from %q", c.user.Username)
}

func (s *SignalServer) handleDeRegister(c *Client) {
	s.removeClient(c)
	s.stats.Decr(stats.ActiveConnections)

	if err := s.registry.Unregister(c); err != nil {
		s.log.Println("unregister presence:", err)
	}

	s.log.Printf("removed connection from %q", c.user.Username)
}

// handleJoin attaches a connection to the room named by a conversation
// id, loading the room on first use. Whether the joining identity is a
// participant of the conversation is checked by the room itself.
func (s *SignalServer) handleJoin(msg *ClientMessage) {
	roomId := msg.Join.RoomId
	if room, ok := s.rooms[roomId]; ok {
		select {
		case room.joinChan <- msg:
		default:
			s.log.Printf("join channel full on room %q", room.id)
			msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
		}
		return
	}

	convId, err := strconv.Atoi(roomId)
	if err != nil {
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	conv, err := s.db.GetConversationById(convId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			s.log.Println("GetConversationById:", err)
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	room := newRoom(conv, s)
	s.rooms[room.id] = room
	s.stats.Incr(stats.ActiveRooms)
	go room.start()

	room.joinChan <- msg
}

func (s *SignalServer) unloadRoom(roomId string) {
	r, ok := s.rooms[roomId]
	if !ok {
		return
	}

	s.log.Printf("unloading room %q", roomId)
	delete(s.rooms, roomId)
	s.stats.Decr(stats.ActiveRooms)
	close(r.exit)
	<-r.done
}

func (s *SignalServer) addClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	s.clients[c] = struct{}{}
}

func (s *SignalServer) removeClient(c *Client) {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	delete(s.clients, c)
}

func (s *SignalServer) Shutdown(ctx context.Context) error {
	s.log.Println("received shutdown signal")

	s.clientsLock.Lock()
	for c := range s.clients {
		c.stopClient()
	}
	s.clientsLock.Unlock()

	close(s.stop)

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
