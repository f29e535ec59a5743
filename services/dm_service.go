package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/repository"
)

// DMService is the private message log between two users of the same class.
//
// A channel is opened lazily for a pair and reused afterwards. Sending a
// message stores it and then publishes a private_message event to the
// receiver only, so their unread badge moves and their sessions get a
// refetch hint. The sender gets nothing: they already have the message in
// the response.
type DMService interface {
	// OpenChannel returns the caller's channel with otherUserID, creating it
	// on first use.
	OpenChannel(ctx context.Context, caller *models.User, otherUserID string) (*models.DMChannel, error)
	ListChannels(ctx context.Context, userID string) ([]models.DMChannelWithUser, error)
	Send(ctx context.Context, channelID, senderID string, req *models.PostMessageRequest) (*models.DMMessage, error)
	Page(ctx context.Context, channelID, viewerID string, after models.Cursor, limit int) (*models.DMMessagePage, error)
}

type dmService struct {
	dmRepo   repository.DMRepository
	userRepo repository.UserRepository
	bus      EventBus
}

// NewDMService creates the service.
func NewDMService(dmRepo repository.DMRepository, userRepo repository.UserRepository, bus EventBus) DMService {
	return &dmService{dmRepo: dmRepo, userRepo: userRepo, bus: bus}
}

func (s *dmService) OpenChannel(ctx context.Context, caller *models.User, otherUserID string) (*models.DMChannel, error) {
	if caller.ID == otherUserID {
		return nil, fmt.Errorf("%w: cannot open a conversation with yourself", pkg.ErrBadRequest)
	}

	other, err := s.userRepo.GetByID(ctx, otherUserID)
	if err != nil {
		return nil, err
	}
	if !sameClass(caller, other) {
		return nil, fmt.Errorf("%w: not in the same class", pkg.ErrUnauthorized)
	}

	user1, user2 := sortUserIDs(caller.ID, other.ID)
	return s.dmRepo.GetOrCreateChannel(ctx, user1, user2)
}

func (s *dmService) ListChannels(ctx context.Context, userID string) ([]models.DMChannelWithUser, error) {
	return s.dmRepo.ListChannels(ctx, userID)
}

func (s *dmService) Send(ctx context.Context, channelID, senderID string, req *models.PostMessageRequest) (*models.DMMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrInvalidContent, err.Error())
	}

	ctx = context.WithoutCancel(ctx)

	channel, err := s.participantChannel(ctx, channelID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &models.DMMessage{
		ID:          uuid.NewString(),
		DMChannelID: channel.ID,
		SenderID:    senderID,
		ReceiverID:  channel.Other(senderID),
		Content:     req.Content,
		Kind:        req.Kind,
	}
	if err := s.dmRepo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	sender := senderID
	if u, err := s.userRepo.GetByID(ctx, senderID); err == nil {
		sender = displayName(u)
	}

	event := models.DomainEvent{
		ID:      "dm:" + msg.ID,
		Type:    models.EventPrivateMessage,
		Content: fmt.Sprintf("New private message from %s", sender),
		Payload: msg,
	}
	if _, err := s.bus.Publish(ctx, event, []string{msg.ReceiverID}); err != nil {
		log.Warn().Str("component", "dm").Str("channel_id", channel.ID).Str("message_id", msg.ID).
			Err(err).Msg("failed to publish private message event")
	}

	return msg, nil
}

func (s *dmService) Page(ctx context.Context, channelID, viewerID string, after models.Cursor, limit int) (*models.DMMessagePage, error) {
	if _, err := s.participantChannel(ctx, channelID, viewerID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	messages, err := s.dmRepo.ListMessagesAfter(ctx, channelID, after, limit+1)
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

	return &models.DMMessagePage{
		Messages:   messages,
		NextCursor: next.String(),
		HasMore:    hasMore,
	}, nil
}

// participantChannel loads the channel and checks that userID is one of its
// two users. Outsiders get ErrNotFound, not ErrUnauthorized, so channel ids
// do not leak.
func (s *dmService) participantChannel(ctx context.Context, channelID, userID string) (*models.DMChannel, error) {
	channel, err := s.dmRepo.GetChannelByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !channel.Has(userID) {
		return nil, fmt.Errorf("%w: dm channel", pkg.ErrNotFound)
	}
	return channel, nil
}

// sameClass: a teacher and one of their students, or two students of the
// same teacher.
func sameClass(a, b *models.User) bool {
	switch {
	case a.IsTeacher() && b.IsTeacher():
		return false
	case a.IsTeacher():
		return b.TeacherID != nil && *b.TeacherID == a.ID
	case b.IsTeacher():
		return a.TeacherID != nil && *a.TeacherID == b.ID
	default:
		return a.TeacherID != nil && b.TeacherID != nil && *a.TeacherID == *b.TeacherID
	}
}

// sortUserIDs orders a pair so that the channel key is unique.
func sortUserIDs(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
