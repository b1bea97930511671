package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"music-stream/backend/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const defaultHistoryPageSize = 50

// MessageService persists direct messages and reads conversations back
type MessageService struct {
	db     *gorm.DB
	now    func() time.Time
	tracer trace.Tracer
}

// MessageServiceOption customises a MessageService
type MessageServiceOption func(*MessageService)

// WithClock replaces the clock used to stamp new messages
func WithClock(now func() time.Time) MessageServiceOption {
	return func(s *MessageService) {
		s.now = now
	}
}

// NewMessageService creates a new message service
func NewMessageService(db *gorm.DB, opts ...MessageServiceOption) *MessageService {
	s := &MessageService{
		db:     db,
		now:    time.Now,
		tracer: otel.Tracer("music-stream/backend/internal/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores a new message and returns it with its id and timestamp set
func (s *MessageService) Append(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.Append", trace.WithAttributes(
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.receiver_id", receiverID),
	))
	defer span.End()

	message := &models.Message{
		ExternalID: uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.now().UTC().Truncate(time.Microsecond),
	}

	if err := s.db.WithContext(ctx).Create(message).Error; err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, &PersistenceError{Op: "append", Err: err}
	}

	return message, nil
}

// History returns the whole conversation between two users, oldest first
func (s *MessageService) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.History")
	defer span.End()

	var messages []models.Message
	err := s.conversation(ctx, userA, userB).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history failed")
		return nil, &PersistenceError{Op: "history", Err: err}
	}

	return messages, nil
}

// HistoryPage is one page of a conversation
type HistoryPage struct {
	Messages   []models.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// HistoryPage returns up to limit messages of the conversation that come
// after cursor, oldest first. An empty cursor starts at the beginning.
func (s *MessageService) HistoryPage(ctx context.Context, userA, userB, cursor string, limit int) (*HistoryPage, error) {
	ctx, span := s.tracer.Start(ctx, "MessageService.HistoryPage", trace.WithAttributes(
		attribute.Int("chat.page_limit", limit),
	))
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryPageSize
	}

	query := s.conversation(ctx, userA, userB)
	if cursor != "" {
		createdAt, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", createdAt, createdAt, id)
	}

	var messages []models.Message
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit + 1).
		Find(&messages).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history page failed")
		return nil, &PersistenceError{Op: "history", Err: err}
	}

	page := &HistoryPage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		last := page.Messages[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}

	return page, nil
}

func (s *MessageService) conversation(ctx context.Context, userA, userB string) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
			userA, userB, userB, userA)
}

func encodeCursor(createdAt time.Time, id uint) string {
	raw := fmt.Sprintf("%d:%d", createdAt.UTC().UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, uint, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}

	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return time.Time{}, 0, ErrInvalidCursor
	}

	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}
	rowID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, 0, ErrInvalidCursor
	}

	return time.Unix(0, n).UTC(), uint(rowID), nil
}
