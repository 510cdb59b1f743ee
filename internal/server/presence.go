package server

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teleclinic/teleclinic/internal/database"
	"github.com/teleclinic/teleclinic/internal/stats"
	"github.com/teleclinic/teleclinic/internal/types"
	"github.com/teris-io/shortid"
)

// ErrUserNotFound is returned when a connection's identity does not
// resolve to a stored user of the expected role.
var ErrUserNotFound = errors.New("user not found")

type presenceEntry struct {
	client       *Client
	user         types.User
	connectionId string
	lastSeen     time.Time
}

// PresenceRegistry tracks which users currently hold a live connection.
// The in-memory map is the hot path for delivery; the online_users table
// is kept in step so presence survives a process restart and can be read
// by other instances.
type PresenceRegistry struct {
	log     *logrus.Logger
	db      database.Repository
	stats   stats.StatsProvider
	mu      sync.RWMutex
	entries map[int]*presenceEntry
}

func NewPresenceRegistry(logger *logrus.Logger, db database.Repository, sp stats.StatsProvider) *PresenceRegistry {
	sp.RegisterMetric(stats.OnlineDoctors)
	sp.RegisterMetric(stats.OnlinePatients)

	return &PresenceRegistry{
		log:     logger,
		db:      db,
		stats:   sp,
		entries: make(map[int]*presenceEntry),
	}
}

// Register records a live connection for the client's identity. The user
// row is re-checked against the store; a missing or role-mismatched user
// registers nothing. A second connection for the same user id replaces
// the first, both in memory and in the durable record.
func (pr *PresenceRegistry) Register(c *Client) error {
	dbUser, err := pr.db.GetUserById(c.user.Id, string(c.user.Role))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}

	connId, err := shortid.Generate()
	if err != nil {
		return fmt.Errorf("generate connection id: %w", err)
	}

	now := Now()
	entry := &presenceEntry{
		client: c,
		user: types.User{
			Id:         dbUser.Id,
			Username:   dbUser.Username,
			Role:       types.Role(dbUser.Role),
			Profession: dbUser.Profession,
		},
		connectionId: connId,
		lastSeen:     now,
	}

	pr.mu.Lock()
	replaced := pr.entries[c.user.Id] != nil
	pr.entries[c.user.Id] = entry
	pr.mu.Unlock()

	if !replaced {
		pr.countOnline(entry.user.Role, 1)
	}

	if err := pr.db.UpsertOnlineUser(database.OnlineUser{
		UserId:       dbUser.Id,
		Role:         dbUser.Role,
		ConnectionId: connId,
		LastSeen:     now,
	}); err != nil {
		return fmt.Errorf("upsert online record: %w", err)
	}

	pr.log.Printf("registered %q (%d) as online %s", dbUser.Username, dbUser.Id, dbUser.Role)
	return nil
}

// Unregister removes the registration owned by this exact connection.
// If a newer connection already replaced the entry for the same user id,
// the newer entry is left untouched and the durable record is kept.
func (pr *PresenceRegistry) Unregister(c *Client) error {
	pr.mu.Lock()
	entry, ok := pr.entries[c.user.Id]
	if !ok || entry.client != c {
		pr.mu.Unlock()
		return nil
	}
	delete(pr.entries, c.user.Id)
	pr.mu.Unlock()

	pr.countOnline(entry.user.Role, -1)

	if err := pr.db.DeleteOnlineUser(c.user.Id); err != nil {
		return fmt.Errorf("delete online record: %w", err)
	}

	pr.log.Printf("unregistered %q (%d)", entry.user.Username, entry.user.Id)
	return nil
}

// LocalClient returns the live connection for a user registered with
// this process, or nil. Used for event delivery, which is local-only.
func (pr *PresenceRegistry) LocalClient(userId int) *Client {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	if entry, ok := pr.entries[userId]; ok {
		return entry.client
	}
	return nil
}

// IsOnline reports whether the user has a live connection anywhere: the
// in-memory map first, then the durable online record, which covers
// connections held by another instance or lost on restart.
func (pr *PresenceRegistry) IsOnline(userId int, role types.Role) bool {
	pr.mu.RLock()
	_, ok := pr.entries[userId]
	pr.mu.RUnlock()
	if ok {
		return true
	}

	if _, err := pr.db.GetOnlineUser(userId, string(role)); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			pr.log.Printf("online record lookup for %d: %v", userId, err)
		}
		return false
	}
	return true
}

// OnlineDoctors lists currently-online doctors, optionally filtered by
// profession (case-insensitive). Backed by the durable online records so
// the directory is correct across instances.
func (pr *PresenceRegistry) OnlineDoctors(profession string) ([]types.User, error) {
	dbDoctors, err := pr.db.ListOnlineDoctors(profession)
	if err != nil {
		return nil, fmt.Errorf("list online doctors: %w", err)
	}

	doctors := make([]types.User, 0, len(dbDoctors))
	for _, d := range dbDoctors {
		doctors = append(doctors, types.User{
			Id:         d.Id,
			Username:   d.Username,
			Role:       types.RoleDoctor,
			Profession: d.Profession,
		})
	}
	return doctors, nil
}

func (pr *PresenceRegistry) countOnline(role types.Role, delta int) {
	var name string
	switch role {
	case types.RoleDoctor:
		name = stats.OnlineDoctors
	case types.RolePatient:
		name = stats.OnlinePatients
	default:
		return
	}

	if delta > 0 {
		pr.stats.Incr(name)
	} else {
		pr.stats.Decr(name)
	}
}
