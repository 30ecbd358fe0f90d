// ABOUTME: Repository is the only component that mutates the conversation store
// ABOUTME: Pairs every mutation with one change event and centralizes message list encoding

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/2389/coven-chat/internal/broadcast"
	"github.com/2389/coven-chat/internal/store"
)

// ErrDuplicateConversation is returned by Add when the id is already taken.
var ErrDuplicateConversation = errors.New("conversation already exists")

// Publisher defines what the repository needs from the change notifier
type Publisher interface {
	Publish(ev broadcast.ChangeEvent)
}

// Changes lists the fields UpdatePartial may touch. Nil fields are left alone.
type Changes struct {
	Title   *string
	GroupID *int64
}

// Option configures a Repository.
type Option func(*Repository)

// WithCodec replaces the default JSON message codec.
func WithCodec(c Codec) Option {
	return func(r *Repository) {
		r.codec = c
	}
}

// Repository provides CRUD and query access to conversations. Every call that
// changes the store publishes exactly one change event, except UpdatePartial
// which publishes none and DeleteByGroup which publishes one per member plus
// a trailing bulk event.
type Repository struct {
	store     store.Store
	publisher Publisher
	codec     Codec
	logger    *slog.Logger
}

// NewRepository creates a repository over s that announces changes on p.
func NewRepository(s store.Store, p Publisher, logger *slog.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		store:     s,
		publisher: p,
		codec:     JSONCodec{},
		logger:    logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Codec returns the codec used for message lists.
func (r *Repository) Codec() Codec {
	return r.codec
}

// GetByID returns the conversation or store.ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*store.Conversation, error) {
	return r.store.Get(ctx, id)
}

// GetMessages decodes the conversation's message list. Invalid stored text
// yields a *DecodeError, never an empty list.
func (r *Repository) GetMessages(c *store.Conversation) ([]ChatMessage, error) {
	msgs, err := r.codec.Decode(c.Messages)
	if err != nil {
		return nil, &DecodeError{ConversationID: c.ID, Err: err}
	}
	return msgs, nil
}

func validateConversation(c *store.Conversation) error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.CreatedAt, validation.Required),
		validation.Field(&c.Messages, validation.Required),
	)
}

// Add stores a new conversation and publishes an add event. Ids come from a
// monotonic source, so a collision is logged and rejected.
func (r *Repository) Add(ctx context.Context, c *store.Conversation) error {
	if err := validateConversation(c); err != nil {
		return fmt.Errorf("invalid conversation: %w", err)
	}

	_, err := r.store.Get(ctx, c.ID)
	if err == nil {
		r.logger.Error("conversation id collision", "id", c.ID)
		return fmt.Errorf("%w: %d", ErrDuplicateConversation, c.ID)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := r.store.Put(ctx, c.Clone()); err != nil {
		return err
	}

	r.logger.Debug("conversation added", "id", c.ID, "title", c.Title)
	r.publisher.Publish(broadcast.ChangeEvent{
		Action:       broadcast.ActionAdd,
		ID:           c.ID,
		Conversation: c.Clone(),
	})
	return nil
}

// Update encodes a copy of msgs into c and overwrites the stored record.
// On success c.Messages holds the new encoding and an edit event is published.
func (r *Repository) Update(ctx context.Context, c *store.Conversation, msgs []ChatMessage) error {
	encoded, err := r.codec.Encode(CloneMessages(msgs))
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}

	next := c.Clone()
	next.Messages = encoded
	if err := r.store.Put(ctx, next); err != nil {
		return err
	}
	c.Messages = encoded

	r.logger.Debug("conversation updated", "id", c.ID, "messages", len(msgs))
	r.publisher.Publish(broadcast.ChangeEvent{
		Action:       broadcast.ActionEdit,
		ID:           c.ID,
		Conversation: next.Clone(),
	})
	return nil
}

// UpdatePartial rewrites metadata fields without touching the message list.
// It publishes no change event; list views pick the change up on their next
// reload.
func (r *Repository) UpdatePartial(ctx context.Context, id int64, changes Changes) error {
	c, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if changes.Title != nil {
		c.Title = *changes.Title
	}
	if changes.GroupID != nil {
		c.GroupID = *changes.GroupID
	}

	if err := r.store.Put(ctx, c); err != nil {
		return err
	}
	r.logger.Debug("conversation partially updated", "id", id)
	return nil
}

// Delete removes one conversation and publishes a delete event. A missing id
// returns store.ErrNotFound and publishes nothing.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	if _, err := r.store.Get(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Info("delete of unknown conversation", "id", id)
		}
		return err
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.logger.Debug("conversation deleted", "id", id)
	r.publisher.Publish(broadcast.ChangeEvent{Action: broadcast.ActionDelete, ID: id})
	return nil
}

// DeleteAll clears the store and publishes a single delete event with id 0.
func (r *Repository) DeleteAll(ctx context.Context) error {
	if err := r.store.Clear(ctx); err != nil {
		return err
	}
	r.logger.Info("all conversations deleted")
	r.publisher.Publish(broadcast.ChangeEvent{Action: broadcast.ActionDelete, ID: 0})
	return nil
}

// DeleteByGroup deletes every conversation in the group one at a time, each
// with its own delete event, then publishes a final delete event with id 0.
func (r *Repository) DeleteByGroup(ctx context.Context, groupID int64) error {
	members, err := r.store.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}

	for _, c := range members {
		if err := r.store.Delete(ctx, c.ID); err != nil {
			return fmt.Errorf("deleting conversation %d of group %d: %w", c.ID, groupID, err)
		}
		r.publisher.Publish(broadcast.ChangeEvent{Action: broadcast.ActionDelete, ID: c.ID})
	}

	r.logger.Info("group deleted", "group_id", groupID, "count", len(members))
	r.publisher.Publish(broadcast.ChangeEvent{Action: broadcast.ActionDelete, ID: 0})
	return nil
}

// CountByGroup returns the number of conversations in the group.
func (r *Repository) CountByGroup(ctx context.Context, groupID int64) (int, error) {
	return r.store.CountByGroup(ctx, groupID)
}

// ListByGroup returns the group's conversations with full message lists.
func (r *Repository) ListByGroup(ctx context.Context, groupID int64) ([]*store.Conversation, error) {
	return r.store.ListByGroup(ctx, groupID)
}

// LoadRecentSummaries returns up to limit conversations, newest first, with
// Messages replaced by the empty-list encoding.
func (r *Repository) LoadRecentSummaries(ctx context.Context, limit int) ([]*store.Conversation, error) {
	recent, err := r.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return r.summarize(recent), nil
}

// SearchByTitle returns summaries whose title contains q, ignoring case.
func (r *Repository) SearchByTitle(ctx context.Context, q string) ([]*store.Conversation, error) {
	needle := strings.ToLower(q)
	found, err := r.store.Filter(ctx, func(c *store.Conversation) bool {
		return strings.Contains(strings.ToLower(c.Title), needle)
	})
	if err != nil {
		return nil, err
	}
	return r.summarize(found), nil
}

// SearchContent returns summaries whose serialized message text contains q.
// The match is case-sensitive and runs against the encoded form, so it can
// also hit field names of the encoding. It scans every record.
func (r *Repository) SearchContent(ctx context.Context, q string) ([]*store.Conversation, error) {
	found, err := r.store.Filter(ctx, func(c *store.Conversation) bool {
		return strings.Contains(c.Messages, q)
	})
	if err != nil {
		return nil, err
	}
	return r.summarize(found), nil
}

func (r *Repository) summarize(list []*store.Conversation) []*store.Conversation {
	empty := r.codec.Empty()
	for _, c := range list {
		c.Messages = empty
	}
	return list
}
