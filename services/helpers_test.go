package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/repository"
	"github.com/akinalp/gradehub/ws"
)

// fakePusher records deliveries; failures makes the first n pushes fail with
// a transient error.
type fakePusher struct {
	id     string
	userID string

	mu        sync.Mutex
	failures  int
	closed    bool
	delivered []models.Delivery
	attempts  int
}

func (p *fakePusher) ID() string     { return p.id }
func (p *fakePusher) UserID() string { return p.userID }

func (p *fakePusher) Push(d models.Delivery) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.closed {
		return ws.ErrSessionClosed
	}
	if p.failures > 0 {
		p.failures--
		return pkg.ErrDeliveryTransient
	}
	p.delivered = append(p.delivered, d)
	return nil
}

func (p *fakePusher) Deliveries() []models.Delivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Delivery(nil), p.delivered...)
}

func (p *fakePusher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// fakeHub is an in-memory ws.EventPublisher.
type fakeHub struct {
	mu      sync.Mutex
	pushers map[string][]ws.Pusher
	cleared map[string][]string
	dropped []string
}

func newFakeHub() *fakeHub {
	return &fakeHub{pushers: make(map[string][]ws.Pusher), cleared: make(map[string][]string)}
}

func (h *fakeHub) add(p ws.Pusher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushers[p.UserID()] = append(h.pushers[p.UserID()], p)
}

func (h *fakeHub) UserSessions(userID string) []ws.Pusher {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ws.Pusher(nil), h.pushers[userID]...)
}

func (h *fakeHub) ClearUnread(userID string, ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared[userID] = append(h.cleared[userID], ids...)
}

func (h *fakeHub) Drop(p ws.Pusher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped = append(h.dropped, p.ID())
}

func (h *fakeHub) Cleared(userID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.cleared[userID]...)
}

func (h *fakeHub) Dropped() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.dropped...)
}

// failingNotificationRepo fails CreateBatch, to show publishing is never
// fatal to the mutation that triggered it.
type failingNotificationRepo struct {
	repository.NotificationRepository
}

func (failingNotificationRepo) CreateBatch(context.Context, []models.Notification) ([]models.Notification, error) {
	return nil, errors.New("store unavailable")
}

type testEnv struct {
	users         repository.UserRepository
	rooms         repository.RoomRepository
	members       repository.MembershipRepository
	messagesRepo  repository.MessageRepository
	notifRepo     repository.NotificationRepository
	hub           *fakeHub
	bus           *FanoutBus
	roster        RosterService
	messages      MessageService
	notifications NotificationService
	dms           DMService

	teacher  *models.User
	student1 *models.User
	student2 *models.User
}

type envOption func(*envConfig)

type envConfig struct {
	notifRepo func(repository.NotificationRepository) repository.NotificationRepository
	relay     Relay
	delivery  DeliveryConfig
	noStart   bool
}

func withNotificationRepo(wrap func(repository.NotificationRepository) repository.NotificationRepository) envOption {
	return func(c *envConfig) { c.notifRepo = wrap }
}

func withDelivery(cfg DeliveryConfig) envOption {
	return func(c *envConfig) { c.delivery = cfg }
}

func withRelay(r Relay) envOption {
	return func(c *envConfig) { c.relay = r }
}

func withoutWorkers() envOption {
	return func(c *envConfig) { c.noStart = true }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{
		delivery: DeliveryConfig{
			Workers:         2,
			QueueSize:       64,
			MaxTries:        3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		users:        repository.NewSQLiteUserRepo(db.Conn),
		rooms:        repository.NewSQLiteRoomRepo(db.Conn),
		members:      repository.NewSQLiteMembershipRepo(db.Conn),
		messagesRepo: repository.NewSQLiteMessageRepo(db.Conn),
		notifRepo:    repository.NewSQLiteNotificationRepo(db.Conn),
		hub:          newFakeHub(),
	}
	if cfg.notifRepo != nil {
		env.notifRepo = cfg.notifRepo(env.notifRepo)
	}

	env.bus = NewFanoutBus(env.notifRepo, env.rooms, env.members, env.hub, cfg.relay, cfg.delivery)
	if !cfg.noStart {
		ctx, cancel := context.WithCancel(context.Background())
		env.bus.Start(ctx)
		t.Cleanup(func() {
			cancel()
			env.bus.Wait()
		})
	}

	locks := NewRoomLocks()
	env.roster = NewRosterService(env.rooms, env.members, env.users, env.bus, locks)
	env.messages = NewMessageService(env.messagesRepo, env.rooms, env.members, env.users, env.bus, locks)
	env.notifications = NewNotificationService(env.notifRepo, env.bus)
	env.dms = NewDMService(repository.NewSQLiteDMRepo(db.Conn), env.users, env.bus)

	env.teacher = env.seedUser(t, "t1", "Ada", models.RoleTeacher, "")
	env.student1 = env.seedUser(t, "s1", "Amy", models.RoleStudent, "t1")
	env.student2 = env.seedUser(t, "s2", "Ben", models.RoleStudent, "t1")
	return env
}

func (e *testEnv) seedUser(t *testing.T, id, name string, role models.Role, teacherID string) *models.User {
	t.Helper()

	u := &models.User{ID: id, Name: name, Role: role}
	if teacherID != "" {
		u.TeacherID = &teacherID
	}
	require.NoError(t, e.users.Upsert(context.Background(), u))
	return u
}

func (e *testEnv) createRoom(t *testing.T, name string) *models.Room {
	t.Helper()

	room, err := e.roster.CreateRoom(context.Background(), e.teacher,
		&models.CreateRoomRequest{Name: name, Kind: models.RoomKindChat})
	require.NoError(t, err)
	return room
}

func memberIDs(users []models.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
