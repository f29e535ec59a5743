package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/repository"
)

// RosterService owns rooms and their member sets.
//
// Only the room's owning teacher mutates a roster. Mutations on one room are
// serialized; two concurrent adds of the same user resolve to one success and
// one ErrAlreadyMember. Notifications are sent after the mutation commits and
// their failure never undoes it.
type RosterService interface {
	CreateRoom(ctx context.Context, actor *models.User, req *models.CreateRoomRequest) (*models.Room, error)
	// GetRoom returns a room the viewer owns or belongs to.
	GetRoom(ctx context.Context, viewerID, roomID string) (*models.Room, error)
	ListRooms(ctx context.Context, userID string, kind models.RoomKind) ([]models.Room, error)
	AddMember(ctx context.Context, roomID, actorID, targetUserID string) error
	RemoveMember(ctx context.Context, roomID, actorID, targetUserID string) error
	// ListMembers returns the member set. The viewer must own or belong to
	// the room.
	ListMembers(ctx context.Context, viewerID, roomID string) ([]models.User, error)
	// ListEligibleCandidates returns the teacher's students not yet in the
	// room. Only the owner may ask.
	ListEligibleCandidates(ctx context.Context, roomID, teacherID string) ([]models.User, error)
}

type rosterService struct {
	roomRepo       repository.RoomRepository
	membershipRepo repository.MembershipRepository
	userRepo       repository.UserRepository
	bus            EventBus
	locks          *RoomLocks
}

// NewRosterService creates the service. locks must be the instance shared
// with the message service.
func NewRosterService(
	roomRepo repository.RoomRepository,
	membershipRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	bus EventBus,
	locks *RoomLocks,
) RosterService {
	return &rosterService{
		roomRepo:       roomRepo,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		bus:            bus,
		locks:          locks,
	}
}

func (s *rosterService) CreateRoom(ctx context.Context, actor *models.User, req *models.CreateRoomRequest) (*models.Room, error) {
	if !actor.IsTeacher() {
		return nil, fmt.Errorf("%w: only teachers create rooms", pkg.ErrUnauthorized)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}
	ctx = context.WithoutCancel(ctx)

	room := &models.Room{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		OwnerID:   actor.ID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.roomRepo.Create(ctx, room); err != nil {
		return nil, err
	}

	s.notify(ctx, models.DomainEvent{
		ID:      "room:" + room.ID,
		Type:    models.EventRoomCreated,
		RoomID:  room.ID,
		Content: fmt.Sprintf("Created %s %s", roomKindLabel(room.Kind), room.Name),
		Payload: room,
	})
	return room, nil
}

func (s *rosterService) GetRoom(ctx context.Context, viewerID, roomID string) (*models.Room, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVisible(ctx, room, viewerID); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *rosterService) ListRooms(ctx context.Context, userID string, kind models.RoomKind) ([]models.Room, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown room kind %q", pkg.ErrBadRequest, kind)
	}
	return s.roomRepo.ListForUser(ctx, userID, kind)
}

func (s *rosterService) AddMember(ctx context.Context, roomID, actorID, targetUserID string) error {
	ctx = context.WithoutCancel(ctx)

	room, err := s.ownedRoom(ctx, roomID, actorID)
	if err != nil {
		return err
	}

	target, err := s.userRepo.GetByID(ctx, targetUserID)
	if err != nil {
		return err
	}
	if target.Role != models.RoleStudent || target.TeacherID == nil || *target.TeacherID != room.OwnerID {
		return fmt.Errorf("%w: student not in your class", pkg.ErrBadRequest)
	}

	unlock := s.locks.Lock(roomID)
	err = s.membershipRepo.Add(ctx, roomID, targetUserID)
	unlock()
	if err != nil {
		return err
	}

	log.Info().Str("component", "roster").Str("room_id", roomID).Str("actor_id", actorID).
		Str("user_id", targetUserID).Msg("member added")

	s.notify(ctx, models.DomainEvent{
		ID:      uuid.NewString(),
		Type:    models.EventMembershipChanged,
		RoomID:  roomID,
		Content: fmt.Sprintf("%s was added to %s", displayName(target), room.Name),
		Payload: models.MembershipChange{RoomID: roomID, ActorID: actorID, Added: targetUserID},
	})
	return nil
}

func (s *rosterService) RemoveMember(ctx context.Context, roomID, actorID, targetUserID string) error {
	ctx = context.WithoutCancel(ctx)

	room, err := s.ownedRoom(ctx, roomID, actorID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(roomID)
	err = s.membershipRepo.Remove(ctx, roomID, targetUserID)
	unlock()
	if err != nil {
		return err
	}

	log.Info().Str("component", "roster").Str("room_id", roomID).Str("actor_id", actorID).
		Str("user_id", targetUserID).Msg("member removed")

	name := targetUserID
	if target, err := s.userRepo.GetByID(ctx, targetUserID); err == nil {
		name = displayName(target)
	}

	// the removed user is no longer a member but still hears about it
	s.notify(ctx, models.DomainEvent{
		ID:      uuid.NewString(),
		Type:    models.EventMembershipChanged,
		RoomID:  roomID,
		Content: fmt.Sprintf("%s was removed from %s", name, room.Name),
		Payload: models.MembershipChange{RoomID: roomID, ActorID: actorID, Removed: targetUserID},
	}, targetUserID)
	return nil
}

func (s *rosterService) ListMembers(ctx context.Context, viewerID, roomID string) ([]models.User, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVisible(ctx, room, viewerID); err != nil {
		return nil, err
	}
	return s.membershipRepo.ListMembers(ctx, roomID)
}

func (s *rosterService) ListEligibleCandidates(ctx context.Context, roomID, teacherID string) ([]models.User, error) {
	if _, err := s.ownedRoom(ctx, roomID, teacherID); err != nil {
		return nil, err
	}
	return s.membershipRepo.ListCandidates(ctx, roomID, teacherID)
}

// ownedRoom loads the room and checks that actorID owns it.
func (s *rosterService) ownedRoom(ctx context.Context, roomID, actorID string) (*models.Room, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsOwner(actorID) {
		return nil, fmt.Errorf("%w: only the room owner may change its members", pkg.ErrUnauthorized)
	}
	return room, nil
}

func (s *rosterService) checkVisible(ctx context.Context, room *models.Room, viewerID string) error {
	if room.IsOwner(viewerID) {
		return nil
	}
	member, err := s.membershipRepo.IsMember(ctx, room.ID, viewerID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: not a member of this room", pkg.ErrUnauthorized)
	}
	return nil
}

// notify publishes best effort; the mutation has already committed.
func (s *rosterService) notify(ctx context.Context, event models.DomainEvent, extra ...string) {
	if _, err := s.bus.PublishToRoom(ctx, event, extra...); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Str("component", "roster").Str("event_id", event.ID).Str("room_id", event.RoomID).
			Err(err).Msg("failed to publish event")
	}
}

func roomKindLabel(kind models.RoomKind) string {
	if kind == models.RoomKindStudyGroup {
		return "study group"
	}
	return "chatroom"
}

func displayName(u *models.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
