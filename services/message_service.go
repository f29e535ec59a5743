package services

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	// listSinceBatch is how many rows ListSince pulls from the store at once.
	listSinceBatch = 100
)

// MessageService is the per-room append log.
type MessageService interface {
	// Append validates and stores a message. The author must be a member (or
	// the owner) of the room at the moment of the call.
	Append(ctx context.Context, roomID, authorID string, req *models.PostMessageRequest) (*models.Message, error)
	// ListSince yields the room's messages strictly after cursor, in order,
	// fetching lazily. Each call starts a fresh walk; breaking out early is
	// fine. The first error ends the sequence.
	ListSince(ctx context.Context, roomID string, after models.Cursor) iter.Seq2[models.Message, error]
	// Page is the HTTP pull path: one bounded page for a room the viewer can
	// see.
	Page(ctx context.Context, roomID, viewerID string, after models.Cursor, limit int) (*models.MessagePage, error)
}

type messageService struct {
	messageRepo    repository.MessageRepository
	roomRepo       repository.RoomRepository
	membershipRepo repository.MembershipRepository
	userRepo       repository.UserRepository
	bus            EventBus
	locks          *RoomLocks
}

// NewMessageService creates the service. locks must be the instance shared
// with the roster service, so a removal and a post on the same room are
// ordered.
func NewMessageService(
	messageRepo repository.MessageRepository,
	roomRepo repository.RoomRepository,
	membershipRepo repository.MembershipRepository,
	userRepo repository.UserRepository,
	bus EventBus,
	locks *RoomLocks,
) MessageService {
	return &messageService{
		messageRepo:    messageRepo,
		roomRepo:       roomRepo,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		bus:            bus,
		locks:          locks,
	}
}

func (s *messageService) Append(ctx context.Context, roomID, authorID string, req *models.PostMessageRequest) (*models.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrInvalidContent, err.Error())
	}

	ctx = context.WithoutCancel(ctx)

	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		AuthorID: authorID,
		Content:  req.Content,
		Kind:     req.Kind,
	}

	unlock := s.locks.Lock(roomID)
	err = s.checkParticipant(ctx, room, authorID)
	if err == nil {
		err = s.messageRepo.Create(ctx, msg)
	}
	unlock()
	if err != nil {
		return nil, err
	}

	author := authorID
	if u, err := s.userRepo.GetByID(ctx, authorID); err == nil {
		author = displayName(u)
	}

	event := models.DomainEvent{
		ID:      "message:" + msg.ID,
		Type:    models.EventMessagePosted,
		RoomID:  roomID,
		Content: fmt.Sprintf("%s posted in %s", author, room.Name),
		Payload: msg,
	}
	if _, err := s.bus.PublishToRoom(ctx, event); err != nil {
		log.Warn().Str("component", "messages").Str("room_id", roomID).Str("message_id", msg.ID).
			Err(err).Msg("failed to publish message event")
	}

	return msg, nil
}

func (s *messageService) ListSince(ctx context.Context, roomID string, after models.Cursor) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		cursor := after
		for {
			batch, err := s.messageRepo.ListAfter(ctx, roomID, cursor, listSinceBatch)
			if err != nil {
				yield(models.Message{}, err)
				return
			}
			for _, msg := range batch {
				if !yield(msg, nil) {
					return
				}
				cursor = msg.Cursor()
			}
			if len(batch) < listSinceBatch {
				return
			}
		}
	}
}

func (s *messageService) Page(ctx context.Context, roomID, viewerID string, after models.Cursor, limit int) (*models.MessagePage, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.checkParticipant(ctx, room, viewerID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	// one extra row tells whether another page exists
	messages, err := s.messageRepo.ListAfter(ctx, roomID, after, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	next := after
	if len(messages) > 0 {
		next = messages[len(messages)-1].Cursor()
	}

	return &models.MessagePage{
		Messages:   messages,
		NextCursor: next.String(),
		HasMore:    hasMore,
	}, nil
}

// checkParticipant reads membership from the store on every call.
func (s *messageService) checkParticipant(ctx context.Context, room *models.Room, userID string) error {
	if room.IsOwner(userID) {
		return nil
	}
	member, err := s.membershipRepo.IsMember(ctx, room.ID, userID)
	if err != nil {
		return err
	}
	if !member {
		return fmt.Errorf("%w: not a member of this room", pkg.ErrUnauthorized)
	}
	return nil
}
