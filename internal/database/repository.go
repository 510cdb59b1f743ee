package database

type Repository interface {
	Ping() error
	CreateUser(params CreateUserParams) (User, error)
	GetUserById(id int, role string) (User, error)
	GetUserByUsername(username, role string) (User, error)
	ListDoctors() ([]User, error)
	DeleteDoctor(id int) error
	GetOrCreateConversation(patientId, doctorId int) (Conversation, error)
	GetConversationById(id int) (Conversation, error)
	ListPatientsForDoctor(doctorId int) ([]User, error)
	CreateMessage(msg Message) error
	ListMessages(conversationId int) ([]Message, error)
	UpsertOnlineUser(rec OnlineUser) error
	DeleteOnlineUser(userId int) error
	GetOnlineUser(userId int, role string) (OnlineUser, error)
	ListOnlineDoctors(profession string) ([]User, error)
}
