package types

import (
	"time"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated party attached to a connection or
// request. Privileged operations re-derive the acting user from it
// rather than trusting payload-supplied ids.
type Identity struct {
	UserId int  `json:"user_id"`
	Role   Role `json:"role"`
}

type User struct {
	Id         int       `json:"id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	Profession string    `json:"profession,omitempty"`
	Password   string    `json:"-"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

type Conversation struct {
	Id        int       `json:"id"`
	PatientId int       `json:"patient_id"`
	DoctorId  int       `json:"doctor_id"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Message struct {
	SenderId       int       `json:"sender_id"`
	ConversationId int       `json:"conversation_id"`
	Content        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// PatientSummary is a row in a doctor's patient list: a patient who
// shares a conversation with the doctor, flagged with current presence.
type PatientSummary struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
}
