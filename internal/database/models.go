package database

import "time"

type User struct {
	Id           int
	Username     string
	PasswordHash string
	Role         string
	Profession   string
	CreatedAt    time.Time
}

type Conversation struct {
	Id        int
	PatientId int
	DoctorId  int
	CreatedAt time.Time
}

type Message struct {
	Id             int
	ConversationId int
	SenderId       int
	Content        string
	CreatedAt      time.Time
}

// OnlineUser is the durable presence record. One row per user, replaced
// on reconnect, deleted on disconnect.
type OnlineUser struct {
	UserId       int
	Role         string
	ConnectionId string
	LastSeen     time.Time
}

type CreateUserParams struct {
	Username     string
	PasswordHash string
	Role         string
	Profession   string
}
