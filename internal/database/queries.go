package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

func (db *PgRepository) CreateUser(params CreateUserParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO users (username, password_hash, role, profession, created_at) "+
			"VALUES ($1, $2, $3, NULLIF($4, ''), $5) RETURNING id, username, role, COALESCE(profession, ''), created_at",
		params.Username,
		params.PasswordHash,
		params.Role,
		params.Profession,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.Role,
		&u.Profession,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgRepository) GetUserById(id int, role string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, role, COALESCE(profession, ''), created_at FROM users "+
			"WHERE id = $1 AND role = $2 LIMIT 1",
		id,
		role,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Profession,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgRepository) GetUserByUsername(username, role string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, role, COALESCE(profession, ''), created_at FROM users "+
			"WHERE username = $1 AND role = $2 LIMIT 1",
		username,
		role,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Profession,
		&user.CreatedAt,
	)

	return user, err
}

func (db *PgRepository) ListDoctors() ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, COALESCE(profession, '') FROM users WHERE role = 'doctor' ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors []User
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Id, &u.Username, &u.Profession); err != nil {
			break
		}

		doctors = append(doctors, u)
	}

	return doctors, err
}

func (db *PgRepository) DeleteDoctor(id int) error {
	_, err := db.conn.Exec(
		"DELETE FROM users WHERE id = $1 AND role = 'doctor'",
		id,
	)

	return err
}

func (db *PgRepository) getConversationByPair(patientId, doctorId int) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, patient_id, doctor_id, created_at FROM conversations "+
			"WHERE patient_id = $1 AND doctor_id = $2 LIMIT 1",
		patientId,
		doctorId,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.PatientId,
		&conv.DoctorId,
		&conv.CreatedAt,
	)

	return conv, err
}

// GetOrCreateConversation returns the conversation for the pair,
// creating it if absent. A concurrent creator losing the insert race is
// resolved by re-selecting the row that violated the pair constraint.
func (db *PgRepository) GetOrCreateConversation(patientId, doctorId int) (Conversation, error) {
	conv, err := db.getConversationByPair(patientId, doctorId)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, err
	}

	row := db.conn.QueryRow(
		"INSERT INTO conversations (patient_id, doctor_id, created_at) "+
			"VALUES ($1, $2, $3) RETURNING id, patient_id, doctor_id, created_at",
		patientId,
		doctorId,
		time.Now().UTC(),
	)

	err = row.Scan(
		&conv.Id,
		&conv.PatientId,
		&conv.DoctorId,
		&conv.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return db.getConversationByPair(patientId, doctorId)
		}
		return Conversation{}, err
	}

	return conv, nil
}

func (db *PgRepository) GetConversationById(id int) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, patient_id, doctor_id, created_at FROM conversations WHERE id = $1 LIMIT 1",
		id,
	)

	var conv Conversation
	err := row.Scan(
		&conv.Id,
		&conv.PatientId,
		&conv.DoctorId,
		&conv.CreatedAt,
	)

	return conv, err
}

func (db *PgRepository) ListPatientsForDoctor(doctorId int) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT u.id, u.username FROM users u "+
			"JOIN conversations c ON u.id = c.patient_id "+
			"WHERE c.doctor_id = $1 AND u.role = 'patient' ORDER BY u.id",
		doctorId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []User
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Id, &u.Username); err != nil {
			break
		}

		patients = append(patients, u)
	}

	return patients, err
}

func (db *PgRepository) CreateMessage(msg Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (conversation_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4)",
		msg.ConversationId,
		msg.SenderId,
		msg.Content,
		msg.CreatedAt,
	)

	return err
}

// ListMessages returns the full history for a conversation in ascending
// timestamp order, insertion order preserving same-timestamp ties.
func (db *PgRepository) ListMessages(conversationId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, conversation_id, sender_id, content, created_at FROM messages "+
			"WHERE conversation_id = $1 ORDER BY created_at, id",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.ConversationId, &msg.SenderId, &msg.Content, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}

	return messages, err
}

func (db *PgRepository) UpsertOnlineUser(rec OnlineUser) error {
	_, err := db.conn.Exec(
		"INSERT INTO online_users (user_id, role, connection_id, last_seen) "+
			"VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (user_id) DO UPDATE SET role = $2, connection_id = $3, last_seen = $4",
		rec.UserId,
		rec.Role,
		rec.ConnectionId,
		rec.LastSeen,
	)

	return err
}

func (db *PgRepository) DeleteOnlineUser(userId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM online_users WHERE user_id = $1",
		userId,
	)

	return err
}

func (db *PgRepository) GetOnlineUser(userId int, role string) (OnlineUser, error) {
	row := db.conn.QueryRow(
		"SELECT user_id, role, connection_id, last_seen FROM online_users "+
			"WHERE user_id = $1 AND role = $2 LIMIT 1",
		userId,
		role,
	)

	var rec OnlineUser
	err := row.Scan(
		&rec.UserId,
		&rec.Role,
		&rec.ConnectionId,
		&rec.LastSeen,
	)

	return rec, err
}

// ListOnlineDoctors returns doctors with a live online record, optionally
// filtered by profession (case-insensitive exact match).
func (db *PgRepository) ListOnlineDoctors(profession string) ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT u.id, u.username, COALESCE(u.profession, '') FROM users u "+
			"JOIN online_users o ON u.id = o.user_id "+
			"WHERE u.role = 'doctor' AND ($1 = '' OR LOWER(u.profession) = LOWER($1)) "+
			"ORDER BY u.id",
		profession,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctors = make([]User, 0)
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Id, &u.Username, &u.Profession); err != nil {
			break
		}

		doctors = append(doctors, u)
	}

	return doctors, err
}
