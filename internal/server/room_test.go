package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/stats"
	"github.com/teleclinic/teleclinic/internal/testutil"
	"github.com/teleclinic/teleclinic/internal/types"
)

func newTestServer(t *testing.T, db database.Repository) *SignalServer {
	t.Helper()
	logger := testutil.TestLogger(t)
	registry := NewPresenceRegistry(logger, db, &stats.MockStatsUpdater{})
	srv, err := NewSignalServer(logger, db, registry, &stats.MockStatsUpdater{})
	require.NoError(t, err)
	return srv
}

func newTestClient(t *testing.T, user types.User, srv *SignalServer) *Client {
	t.Helper()
	return NewClient(user, nil, srv, testutil.TestLogger(t))
}

func startTestRoom(t *testing.T, srv *SignalServer, conv database.Conversation) *Room {
	t.Helper()
	r := newRoom(conv, srv)
	go r.start()
	t.Cleanup(func() {
		close(r.exit)
		<-r.done
	})
	return r
}

func recvMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func joinTestRoom(t *testing.T, r *Room, c *Client, msgId int) {
	t.Helper()
	r.joinChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: msgId},
		Join:        &Join{RoomId: r.id},
		client:      c,
	}

	resp := recvMessage(t, c)
	require.NotNil(t, resp.Response)
	require.Equal(t, 200, resp.Response.ResponseCode)
	require.Equal(t, msgId, resp.Id)
}

func TestJoinRoomParticipants(t *testing.T) {
	db := &database.MockRepository{}
	srv := newTestServer(t, db)
	conv := database.Conversation{Id: 5, PatientId: 1, DoctorId: 2}
	r := startTestRoom(t, srv, conv)

	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	doctor := newTestClient(t, types.User{Id: 2, Role: types.RoleDoctor}, srv)

	r.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: "5"}, client: patient}
	resp := recvMessage(t, patient)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 200, resp.Response.ResponseCode)
	assert.Equal(t, "5", resp.Response.Data["room_id"])
	assert.Equal(t, 5, resp.Response.Data["conversation_id"])
	assert.Equal(t, 1, resp.Response.Data["patient_id"])
	assert.Equal(t, 2, resp.Response.Data["doctor_id"])

	joinTestRoom(t, r, doctor, 2)
	assert.Same(t, r, patient.getRoom("5"))
	assert.Same(t, r, doctor.getRoom("5"))
}

func TestJoinRoomNonParticipant(t *testing.T) {
	db := &database.MockRepository{}
	srv := newTestServer(t, db)
	r := startTestRoom(t, srv, database.Conversation{Id: 5, PatientId: 1, DoctorId: 2})

	intruder := newTestClient(t, types.User{Id: 99, Role: types.RolePatient}, srv)
	r.joinChan <- &ClientMessage{BaseMessage: BaseMessage{Id: 1}, Join: &Join{RoomId: "5"}, client: intruder}

	resp := recvMessage(t, intruder)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 403, resp.Response.ResponseCode)
	assert.Nil(t, intruder.getRoom("5"))
}

func TestChatPersistAndBroadcast(t *testing.T) {
	db := &database.MockRepository{}
	db.On("CreateMessage", mock.AnythingOfType("database.Message")).Return(nil)

	srv := newTestServer(t, db)
	r := startTestRoom(t, srv, database.Conversation{Id: 5, PatientId: 1, DoctorId: 2})

	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	doctor := newTestClient(t, types.User{Id: 2, Role: types.RoleDoctor}, srv)
	joinTestRoom(t, r, patient, 1)
	joinTestRoom(t, r, doctor, 2)

	sentAt := Now()
	r.clientMsgChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 3, Timestamp: sentAt},
		Chat:        &Chat{RoomId: "5", Content: "hello doctor"},
		client:      patient,
	}

	ack := recvMessage(t, patient)
	require.NotNil(t, ack.Response)
	assert.Equal(t, 202, ack.Response.ResponseCode)

	// sender and receiver both get the chat event
	for _, c := range []*Client{patient, doctor} {
		chat := recvMessage(t, c)
		require.NotNil(t, chat.Chat)
		assert.Equal(t, 1, chat.Chat.SenderId)
		assert.Equal(t, 5, chat.Chat.ConversationId)
		assert.Equal(t, "hello doctor", chat.Chat.Content)
		assert.Equal(t, sentAt, chat.Chat.Timestamp)
	}

	db.AssertCalled(t, "CreateMessage", database.Message{
		ConversationId: 5,
		SenderId:       1,
		Content:        "hello doctor",
		CreatedAt:      sentAt,
	})
}

// A chat message whose write fails must not reach anyone, including the
// sender.
func TestChatPersistFailureNoBroadcast(t *testing.T) {
	db := &database.MockRepository{}
	db.On("CreateMessage", mock.AnythingOfType("database.Message")).Return(assert.AnError)

	srv := newTestServer(t, db)
	r := startTestRoom(t, srv, database.Conversation{Id: 5, PatientId: 1, DoctorId: 2})

	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	doctor := newTestClient(t, types.User{Id: 2, Role: types.RoleDoctor}, srv)
	joinTestRoom(t, r, patient, 1)
	joinTestRoom(t, r, doctor, 2)

	r.clientMsgChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 3, Timestamp: Now()},
		Chat:        &Chat{RoomId: "5", Content: "hello"},
		client:      patient,
	}

	resp := recvMessage(t, patient)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 500, resp.Response.ResponseCode)

	assertNoMessage(t, doctor)
	assertNoMessage(t, patient)
}

func TestSignalRelaySkipsSender(t *testing.T) {
	db := &database.MockRepository{}
	srv := newTestServer(t, db)
	r := startTestRoom(t, srv, database.Conversation{Id: 5, PatientId: 1, DoctorId: 2})

	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	doctor := newTestClient(t, types.User{Id: 2, Role: types.RoleDoctor}, srv)
	joinTestRoom(t, r, patient, 1)
	joinTestRoom(t, r, doctor, 2)

	payload := json.RawMessage(`{"sdp":"v=0..."}`)
	r.clientMsgChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 3, Timestamp: Now()},
		Offer:       &Signal{RoomId: "5", Payload: payload},
		client:      patient,
	}

	sig := recvMessage(t, doctor)
	require.NotNil(t, sig.Signal)
	assert.Equal(t, SignalOffer, sig.Signal.Kind)
	assert.Equal(t, "5", sig.Signal.RoomId)
	assert.Equal(t, payload, sig.Signal.Payload)

	assertNoMessage(t, patient)
	db.AssertNotCalled(t, "CreateMessage", mock.Anything)
}

// A signal sent while alone in the room is dropped: nothing is stored
// and nothing is delivered.
func TestSignalAloneInRoom(t *testing.T) {
	db := &database.MockRepository{}
	srv := newTestServer(t, db)
	r := startTestRoom(t, srv, database.Conversation{Id: 5, PatientId: 1, DoctorId: 2})

	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	joinTestRoom(t, r, patient, 1)

	r.clientMsgChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 2, Timestamp: Now()},
		Candidate:   &Signal{RoomId: "5", Payload: json.RawMessage(`{}`)},
		client:      patient,
	}

	assertNoMessage(t, patient)
	db.AssertNotCalled(t, "CreateMessage", mock.Anything)
}

// Events in one conversation's room never reach members of another.
func TestRoomIsolation(t *testing.T) {
	db := &database.MockRepository{}
	db.On("CreateMessage", mock.AnythingOfType("database.Message")).Return(nil)

	srv := newTestServer(t, db)
	r1 := startTestRoom(t, srv, database.Conversation{Id: 5, PatientId: 1, DoctorId: 2})
	r2 := startTestRoom(t, srv, database.Conversation{Id: 6, PatientId: 3, DoctorId: 2})

	patient1 := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	patient2 := newTestClient(t, types.User{Id: 3, Role: types.RolePatient}, srv)
	joinTestRoom(t, r1, patient1, 1)
	joinTestRoom(t, r2, patient2, 1)

	r1.clientMsgChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 2, Timestamp: Now()},
		Chat:        &Chat{RoomId: "5", Content: "for room five only"},
		client:      patient1,
	}

	ack := recvMessage(t, patient1)
	require.NotNil(t, ack.Response)
	assert.Equal(t, 202, ack.Response.ResponseCode)
	echo := recvMessage(t, patient1)
	require.NotNil(t, echo.Chat)
	assert.Equal(t, 5, echo.Chat.ConversationId)

	assertNoMessage(t, patient2)
}

// A join still queued when the room unloads gets an explicit answer
// instead of silence.
func TestRoomExitAnswersQueuedJoins(t *testing.T) {
	db := &database.MockRepository{}
	srv := newTestServer(t, db)
	r := newRoom(database.Conversation{Id: 5, PatientId: 1, DoctorId: 2}, srv)

	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	r.joinChan <- &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: "5"},
		client:      patient,
	}

	r.handleRoomExit()

	resp := recvMessage(t, patient)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 404, resp.Response.ResponseCode)

	select {
	case <-r.done:
	default:
		t.Fatal("room did not signal completion")
	}
}

func TestRoomLeaveStartsKillTimer(t *testing.T) {
	db := &database.MockRepository{}
	srv := newTestServer(t, db)
	r := startTestRoom(t, srv, database.Conversation{Id: 5, PatientId: 1, DoctorId: 2})

	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)
	joinTestRoom(t, r, patient, 1)

	r.leaveChan <- &ClientMessage{UserId: 1, client: patient}

	assert.Eventually(t, func() bool {
		return r.empty() && patient.getRoom("5") == nil
	}, time.Second, 10*time.Millisecond)
}
