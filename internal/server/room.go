package server

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/stats"
	"github.com/teleclinic/teleclinic/internal/types"
)

const idleRoomTimeout = 30 * time.Second

// Room is the broadcast group for one conversation. Its id is always
// the stringified conversation id; membership is limited to the
// conversation's patient and doctor.
type Room struct {
	id            string
	conv          database.Conversation
	srv           *SignalServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *logrus.Logger
	// killTimer unloads the room once it has been empty for a while
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newRoom(conv database.Conversation, s *SignalServer) *Room {
	return &Room{
		id:            strconv.Itoa(conv.Id),
		conv:          conv,
		srv:           s,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		log:           s.log,
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Chat != nil:
				r.saveAndBroadcast(msg)
			case msg.Offer != nil:
				r.relaySignal(SignalOffer, msg, msg.Offer)
			case msg.Answer != nil:
				r.relaySignal(SignalAnswer, msg, msg.Answer)
			case msg.Candidate != nil:
				r.relaySignal(SignalIceCandidate, msg, msg.Candidate)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.id)
	select {
	case r.srv.unloadRoomChan <- r.id:
	default:
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.id)

	// a join queued behind the unload would otherwise never be answered
drain:
	for {
		select {
		case join := <-r.joinChan:
			join.client.queueMessage(ErrRoomNotFound(join.Id))
		default:
			break drain
		}
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.id)
	}
	r.clientLock.Unlock()

	close(r.done)
}

// handleJoin attaches the client if its identity is one of the two
// conversation participants. Joining twice has no additional effect.
func (r *Room) handleJoin(join *ClientMessage) {
	c := join.client
	if c.user.Id != r.conv.PatientId && c.user.Id != r.conv.DoctorId {
		r.log.Printf("user %d is not a participant of conversation %d", c.user.Id, r.conv.Id)
		c.queueMessage(ErrForbidden(join.Id))
		if r.empty() {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	r.killTimer.Stop()
	r.addClient(c)

	c.queueMessage(NoErrOK(join.Id, map[string]any{
		"room_id":         r.id,
		"conversation_id": r.conv.Id,
		"patient_id":      r.conv.PatientId,
		"doctor_id":       r.conv.DoctorId,
	}))
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	r.removeClient(leaveMsg.client)
}

// saveAndBroadcast persists the chat message, then fans it out to every
// member including the sender. A failed write is never broadcast.
func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	if err := r.srv.db.CreateMessage(database.Message{
		ConversationId: r.conv.Id,
		SenderId:       msg.client.user.Id,
		Content:        msg.Chat.Content,
		CreatedAt:      msg.Timestamp,
	}); err != nil {
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.srv.stats.Incr(stats.ChatMessages)
	msg.client.queueMessage(NoErrAccepted(msg.Id))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: msg.Timestamp,
		},
		Chat: &types.Message{
			SenderId:       msg.client.user.Id,
			ConversationId: r.conv.Id,
			Content:        msg.Chat.Content,
			Timestamp:      msg.Timestamp,
		},
	})
}

// relaySignal passes a WebRTC envelope to the other members verbatim.
// Nothing is persisted and the payload is never inspected.
func (r *Room) relaySignal(kind string, msg *ClientMessage, sig *Signal) {
	r.srv.stats.Incr(stats.SignalsRelayed)

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: msg.Timestamp,
		},
		Signal: &SignalEvent{
			Kind:    kind,
			RoomId:  r.id,
			Payload: sig.Payload,
		},
		SkipClient: msg.client,
	})
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	r.log.Printf("removing client %q from room %q", c.user.Username, r.id)
	delete(r.clients, c)
	c.delRoom(r.id)

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.id)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) empty() bool {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	return len(r.clients) == 0
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
