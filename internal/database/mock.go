package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateUser(params CreateUserParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserById(id int, role string) (User, error) {
	args := m.Called(id, role)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetUserByUsername(username, role string) (User, error) {
	args := m.Called(username, role)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) ListDoctors() ([]User, error) {
	args := m.Called()
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRepository) DeleteDoctor(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) GetOrCreateConversation(patientId, doctorId int) (Conversation, error) {
	args := m.Called(patientId, doctorId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) GetConversationById(id int) (Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockRepository) ListPatientsForDoctor(doctorId int) ([]User, error) {
	args := m.Called(doctorId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockRepository) CreateMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockRepository) ListMessages(conversationId int) ([]Message, error) {
	args := m.Called(conversationId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) UpsertOnlineUser(rec OnlineUser) error {
	args := m.Called(rec)
	return args.Error(0)
}
func (m *MockRepository) DeleteOnlineUser(userId int) error {
	args := m.Called(userId)
	return args.Error(0)
}
func (m *MockRepository) GetOnlineUser(userId int, role string) (OnlineUser, error) {
	args := m.Called(userId, role)
	return args.Get(0).(OnlineUser), args.Error(1)
}
func (m *MockRepository) ListOnlineDoctors(profession string) ([]User, error) {
	args := m.Called(profession)
	return args.Get(0).([]User), args.Error(1)
}
