package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/teleclinic/teleclinic/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the tagged envelope for inbound websocket events.
// Exactly one of the pointer fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	Join      *Join           `json:"join,omitempty"`
	Chat      *Chat           `json:"chat,omitempty"`
	Request   *ConsultRequest `json:"request,omitempty"`
	Accept    *ConsultAccept  `json:"accept,omitempty"`
	Offer     *Signal         `json:"offer,omitempty"`
	Answer    *Signal         `json:"answer,omitempty"`
	Candidate *Signal         `json:"candidate,omitempty"`
	UserId    int             `json:"-"`
	client    *Client
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Chat struct {
	RoomId  string `json:"room_id"`
	Content string `json:"content"`
}

// ConsultRequest is a patient asking a doctor for a consultation. The
// acting patient is taken from the connection's identity; the names are
// display hints only and the server substitutes authenticated values.
type ConsultRequest struct {
	DoctorId    int    `json:"doctor_id"`
	PatientName string `json:"patient_name,omitempty"`
	DoctorName  string `json:"doctor_name,omitempty"`
}

// ConsultAccept is a doctor accepting a pending consultation. The acting
// doctor is taken from the connection's identity and verified against
// the conversation row before any notification fires.
type ConsultAccept struct {
	PatientId      int    `json:"patient_id"`
	ConversationId int    `json:"conversation_id"`
	DoctorName     string `json:"doctor_name,omitempty"`
}

// Signal carries an opaque WebRTC payload. The server never inspects it.
type Signal struct {
	RoomId  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Chat         *types.Message `json:"chat,omitempty"`
	Signal       *SignalEvent   `json:"signal,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalIceCandidate = "ice_candidate"
)

type SignalEvent struct {
	Kind    string          `json:"kind"`
	RoomId  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

type Notification struct {
	NewPatientRequest    *NewPatientRequest    `json:"new_patient_request,omitempty"`
	ConsultationAccepted *ConsultationAccepted `json:"consultation_accepted,omitempty"`
}

type NewPatientRequest struct {
	PatientId      int    `json:"patient_id"`
	PatientName    string `json:"patient_name"`
	ConversationId int    `json:"conversation_id"`
}

type ConsultationAccepted struct {
	DoctorId       int    `json:"doctor_id"`
	DoctorName     string `json:"doctor_name"`
	ConversationId int    `json:"conversation_id"`
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "not found",
		},
	}
}

func ErrForbidden(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        "forbidden",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
