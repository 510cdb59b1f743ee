package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/types"
)

func TestDispatchRejectsInvalidMessages(t *testing.T) {
	tests := []struct {
		name         string
		user         types.User
		msg          *ClientMessage
		expectedCode int
	}{
		{
			name:         "empty envelope",
			user:         types.User{Id: 1, Role: types.RolePatient},
			msg:          &ClientMessage{BaseMessage: BaseMessage{Id: 1}},
			expectedCode: 400,
		},
		{
			name: "chat with empty content",
			user: types.User{Id: 1, Role: types.RolePatient},
			msg: &ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				Chat:        &Chat{RoomId: "5"},
			},
			expectedCode: 400,
		},
		{
			name: "chat to room not joined",
			user: types.User{Id: 1, Role: types.RolePatient},
			msg: &ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				Chat:        &Chat{RoomId: "5", Content: "hi"},
			},
			expectedCode: 404,
		},
		{
			name: "signal to room not joined",
			user: types.User{Id: 1, Role: types.RolePatient},
			msg: &ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				Offer:       &Signal{RoomId: "5"},
			},
			expectedCode: 404,
		},
		{
			name: "consult request from doctor",
			user: types.User{Id: 2, Role: types.RoleDoctor},
			msg: &ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				Request:     &ConsultRequest{DoctorId: 3},
			},
			expectedCode: 403,
		},
		{
			name: "consult accept from patient",
			user: types.User{Id: 1, Role: types.RolePatient},
			msg: &ClientMessage{
				BaseMessage: BaseMessage{Id: 1},
				Accept:      &ConsultAccept{ConversationId: 5},
			},
			expectedCode: 403,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &database.MockRepository{})
			c := newTestClient(t, tc.user, srv)

			tc.msg.client = c
			c.dispatch(tc.msg)

			resp := recvMessage(t, c)
			require.NotNil(t, resp.Response)
			assert.Equal(t, tc.expectedCode, resp.Response.ResponseCode)
		})
	}
}

func TestDispatchForwardsConsultMessages(t *testing.T) {
	srv := newTestServer(t, &database.MockRepository{})
	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)

	msg := &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Request:     &ConsultRequest{DoctorId: 2},
		client:      patient,
	}
	patient.dispatch(msg)

	select {
	case forwarded := <-srv.consultChan:
		assert.Same(t, msg, forwarded)
	default:
		t.Fatal("expected message on consult channel")
	}
}

func TestDispatchForwardsJoin(t *testing.T) {
	srv := newTestServer(t, &database.MockRepository{})
	patient := newTestClient(t, types.User{Id: 1, Role: types.RolePatient}, srv)

	msg := &ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &Join{RoomId: "5"},
		client:      patient,
	}
	patient.dispatch(msg)

	select {
	case forwarded := <-srv.joinChan:
		assert.Same(t, msg, forwarded)
	default:
		t.Fatal("expected message on join channel")
	}
}
