// ABOUTME: Streaming session controller for the active conversation
// ABOUTME: Appends user input, reconciles streamed deltas in order and persists the final list

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/completion"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/notify"
	"github.com/2389/coven-chat/internal/store"
)

// ErrBusy is returned by Submit while a completion is streaming.
var ErrBusy = errors.New("a response is still streaming")

// ErrSuperseded is returned by Submit when StartNew or Select replaced the
// active conversation before the stream could start. The user message has
// still been stored.
var ErrSuperseded = errors.New("conversation changed before the stream started")

// State is the controller's lifecycle state.
type State int

const (
	// StateIdle means there is no conversation yet.
	StateIdle State = iota
	// StateActive means a conversation is loaded and nothing is streaming.
	StateActive
	// StateStreaming means a completion call is outstanding.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Transport defines what the controller needs from a completion backend.
// Implementations write deltas in order, must stop when ctx is cancelled and
// must not write to deltas after returning.
type Transport interface {
	SendStreamed(ctx context.Context, req *completion.Request, deltas chan<- string) (*completion.Summary, error)
}

// Sink defines what the controller needs from the notification layer.
type Sink interface {
	ReportError(err error, context string)
	ReportSuccess(message string)
}

// Settings defines what the controller reads from user preferences.
type Settings interface {
	Instructions() string
}

// Repository defines what the controller needs from the conversation layer.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*store.Conversation, error)
	GetMessages(c *store.Conversation) ([]conversation.ChatMessage, error)
	Add(ctx context.Context, c *store.Conversation) error
	Update(ctx context.Context, c *store.Conversation, msgs []conversation.ChatMessage) error
	Codec() conversation.Codec
}

// Options tunes a Controller. Zero values fall back to defaults.
type Options struct {
	DefaultModel        string
	DefaultInstructions string
	MaxTitleLength      int
	// DeltaBuffer bounds the channel between transport and reconciler.
	DeltaBuffer int
	// SaveTimeout bounds the final persist, which runs on a context detached
	// from the submit context so a cancelled stream still commits.
	SaveTimeout time.Duration
	Clock       func() time.Time
	// Observer is called with the new list after every in-memory change.
	// Calls never overlap and arrive in the order the list changed, so the
	// last call always carries the current list. They run on whichever
	// controller goroutine is delivering at the time. The slice must not be
	// modified.
	Observer func(msgs []conversation.ChatMessage)
}

const (
	DefaultModel       = "echo-1"
	defaultDeltaBuffer = 32
	defaultSaveTimeout = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.DefaultModel == "" {
		o.DefaultModel = DefaultModel
	}
	if o.MaxTitleLength <= 0 {
		o.MaxTitleLength = conversation.DefaultMaxTitleLength
	}
	if o.DeltaBuffer <= 0 {
		o.DeltaBuffer = defaultDeltaBuffer
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = defaultSaveTimeout
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Controller owns the in-memory message list of the active conversation.
// All methods are safe for concurrent use.
type Controller struct {
	repo      Repository
	transport Transport
	sink      Sink
	settings  Settings
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	conv     *store.Conversation
	messages []conversation.ChatMessage
	draft    string
	task     *Task
	// submitting is set while Submit stores the user message
	submitting bool
	// gen changes whenever the visible conversation is replaced, so a slow
	// Select can tell it was overtaken.
	gen uint64

	// obsMu guards the observer queue. It is never held while calling the
	// observer or while taking mu.
	obsMu      sync.Mutex
	obsPending [][]conversation.ChatMessage
	obsBusy    bool
}

// NewController creates a controller in the Idle state. A nil sink logs
// notifications; nil settings contribute no instructions.
func NewController(repo Repository, transport Transport, sink Sink, settings Settings, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}
	return &Controller{
		repo:      repo,
		transport: transport,
		sink:      sink,
		settings:  settings,
		opts:      opts.withDefaults(),
		logger:    logger.With("component", "session"),
		messages:  []conversation.ChatMessage{},
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether a completion is streaming.
func (c *Controller) Loading() bool {
	return c.State() == StateStreaming
}

// Messages returns a copy of the current message list.
func (c *Controller) Messages() []conversation.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conversation.CloneMessages(c.messages)
}

// Conversation returns a copy of the active conversation, or nil when Idle.
func (c *Controller) Conversation() *store.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Clone()
}

// Draft returns the pending, unsent input.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft stores pending input. It is cleared by StartNew, Select and Submit.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

// StartNew drops the active conversation and returns to Idle. A streaming
// task is cancelled and still persists into its own conversation.
func (c *Controller) StartNew() {
	c.mu.Lock()
	c.detachTaskLocked()
	c.resetLocked()
	c.queueObservationLocked(c.messages)
	c.mu.Unlock()

	c.flushObservations()
}

// Select loads conversation id and makes it the active one. The record is
// fetched and decoded before any visible state changes. A missing id is
// reported to the sink, resets to Idle and returns store.ErrNotFound. A
// decode failure is reported and returned without switching.
func (c *Controller) Select(ctx context.Context, id int64) error {
	c.mu.Lock()
	prev := c.detachTaskLocked()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// Let a cancelled task commit its partial reply before reading it back
	if prev != nil {
		if err := prev.Wait(ctx); err != nil {
			// The old list is missing the task's tail, so don't keep showing it
			c.resetIfCurrent(gen)
			return err
		}
	}

	conv, err := c.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.sink.ReportError(err, fmt.Sprintf("Conversation %d not found", id))
			c.resetIfCurrent(gen)
			return err
		}
		c.sink.ReportError(err, "Failed to load conversation")
		return err
	}

	msgs, err := c.repo.GetMessages(conv)
	if err != nil {
		c.sink.ReportError(err, "Conversation history could not be read")
		return err
	}

	if len(msgs) == 0 {
		c.logger.Warn("selected conversation has no messages", "id", id)
		c.resetIfCurrent(gen)
		return nil
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("selection superseded", "id", id)
		return nil
	}
	c.conv = conv
	c.messages = msgs
	c.state = StateActive
	c.draft = ""
	c.queueObservationLocked(msgs)
	c.mu.Unlock()

	c.logger.Debug("conversation selected", "id", id, "messages", len(msgs))
	c.flushObservations()
	return nil
}

// Submit appends a user message and starts streaming the reply. When Idle, a
// new conversation is created and stored first. ctx bounds the whole stream;
// use Cancel to stop it early. The returned Task finishes after the final
// list is persisted.
func (c *Controller) Submit(ctx context.Context, text string, attachments []conversation.Attachment) (*Task, error) {
	c.mu.Lock()
	if c.state == StateStreaming || c.submitting {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.submitting = true
	gen := c.gen
	conv := c.conv.Clone()
	prior := c.messages
	c.mu.Unlock()

	// Store I/O runs unlocked so change handlers may call back into the controller
	created := conv == nil
	if created {
		conv = c.newConversation(text)
		if err := c.repo.Add(ctx, conv); err != nil {
			c.endSubmit()
			c.sink.ReportError(err, "Failed to create conversation")
			return nil, err
		}
		prior = []conversation.ChatMessage{}
		c.logger.Info("conversation started", "id", conv.ID, "title", conv.Title)
	}

	msgs := make([]conversation.ChatMessage, len(prior)+1)
	copy(msgs, prior)
	msgs[len(prior)] = conversation.ChatMessage{
		ID:          len(prior) + 1,
		Role:        conversation.RoleUser,
		Type:        conversation.MessageNormal,
		Content:     text,
		Attachments: append([]conversation.Attachment(nil), attachments...),
	}

	saved := conv.Clone()
	if err := c.repo.Update(ctx, saved, msgs); err != nil {
		c.sink.ReportError(err, "Failed to save message")
	} else {
		conv.Messages = saved.Messages
	}

	c.mu.Lock()
	c.submitting = false
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Info("submit superseded by navigation", "conversation_id", conv.ID)
		return nil, ErrSuperseded
	}

	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		id:     uuid.New().String(),
		conv:   conv.Clone(),
		base:   msgs,
		msgs:   msgs,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.conv = conv
	c.messages = msgs
	c.draft = ""
	c.task = t
	c.state = StateStreaming
	c.gen++
	req := c.buildRequestLocked(msgs)
	c.queueObservationLocked(msgs)
	c.mu.Unlock()

	c.logger.Debug("stream started", "task_id", t.id, "conversation_id", t.conv.ID, "model", req.Model)
	c.flushObservations()

	go c.run(taskCtx, t, req)
	return t, nil
}

func (c *Controller) endSubmit() {
	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()
}

// Cancel asks the in-flight stream to stop. It does not wait. Deltas the
// transport delivers before it actually stops are still applied, and the
// partial reply is persisted. Reports whether a stream was running.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return false
	}
	c.task.cancel()
	c.logger.Debug("stream cancel requested", "task_id", c.task.id)
	return true
}

func (c *Controller) newConversation(text string) *store.Conversation {
	now := c.opts.Clock()
	var instructions string
	if c.settings != nil {
		instructions = c.settings.Instructions()
	}
	return &store.Conversation{
		ID:           conversation.NewID(now),
		GroupID:      0,
		CreatedAt:    now.UnixMilli(),
		Title:        conversation.DeriveTitle(text, c.opts.MaxTitleLength),
		Model:        c.opts.DefaultModel,
		SystemPrompt: conversation.ResolveSystemPrompt(instructions, c.opts.DefaultInstructions),
		Messages:     c.repo.Codec().Empty(),
	}
}

func (c *Controller) buildRequestLocked(msgs []conversation.ChatMessage) *completion.Request {
	var instructions string
	if c.settings != nil {
		instructions = c.settings.Instructions()
	}
	prompt := conversation.ResolveSystemPrompt(c.conv.SystemPrompt, instructions, c.opts.DefaultInstructions)

	history := replayable(msgs)
	out := make([]conversation.ChatMessage, 0, len(history)+1)
	out = append(out, conversation.ChatMessage{
		Role:    conversation.RoleSystem,
		Type:    conversation.MessageNormal,
		Content: prompt,
	})
	out = append(out, conversation.CloneMessages(history)...)

	model := c.conv.Model
	if model == "" {
		model = c.opts.DefaultModel
	}
	return &completion.Request{Model: model, Messages: out}
}

// run drives one task: a single reconciler goroutine drains the delta
// channel while the transport fills it.
func (c *Controller) run(ctx context.Context, t *Task, req *completion.Request) {
	defer t.cancel()

	deltas := make(chan string, c.opts.DeltaBuffer)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for d := range deltas {
			c.reconcile(t, d)
		}
	}()

	summary, err := c.transport.SendStreamed(ctx, req, deltas)
	close(deltas)
	<-drained

	c.finish(ctx, t, summary, err)
}

func (c *Controller) reconcile(t *Task, delta string) {
	c.mu.Lock()
	next, ok := ApplyDelta(t.msgs, delta)
	if !ok {
		c.mu.Unlock()
		c.logger.Error("delta arrived with no message to attach to", "task_id", t.id, "delta_len", len(delta))
		return
	}
	t.msgs = next
	if c.task == t {
		c.messages = next
		c.queueObservationLocked(next)
	}
	c.mu.Unlock()

	c.flushObservations()
}

func (c *Controller) finish(ctx context.Context, t *Task, summary *completion.Summary, err error) {
	var backendErr *completion.BackendError

	c.mu.Lock()
	switch {
	case errors.As(err, &backendErr):
		t.outcome = OutcomeBackendError
		t.msgs = append(conversation.CloneMessages(t.msgs), conversation.ChatMessage{
			ID:      len(t.msgs) + 1,
			Role:    conversation.RoleAssistant,
			Type:    conversation.MessageError,
			Content: backendErr.Message,
		})
	case err == nil:
		t.outcome = OutcomeCompleted
	case ctx.Err() != nil:
		t.outcome = OutcomeCancelled
	default:
		t.outcome = OutcomeFailed
		t.msgs = t.base
	}
	t.err = err
	final := t.msgs
	current := c.task == t
	if current {
		c.task = nil
		c.messages = final
		c.state = StateActive
		c.queueObservationLocked(final)
	}
	c.mu.Unlock()

	c.logger.Debug("stream finished",
		"task_id", t.id,
		"conversation_id", t.conv.ID,
		"outcome", t.outcome.String(),
		"messages", len(final),
		"finish_reason", finishReason(summary))

	c.flushObservations()

	if t.outcome == OutcomeFailed {
		c.sink.ReportError(err, "Failed to get a response from the model")
	} else {
		c.persist(t, final)
	}
	close(t.done)
}

// persist commits the task's final list on a detached context
func (c *Controller) persist(t *Task, final []conversation.ChatMessage) {
	saveCtx, cancel := context.WithTimeout(context.Background(), c.opts.SaveTimeout)
	defer cancel()

	saved := t.conv.Clone()
	if err := c.repo.Update(saveCtx, saved, final); err != nil {
		t.saveErr = err
		c.sink.ReportError(err, "Failed to save conversation")
		return
	}
	t.conv.Messages = saved.Messages

	c.mu.Lock()
	if c.conv != nil && c.conv.ID == saved.ID {
		c.conv.Messages = saved.Messages
	}
	c.mu.Unlock()
}

// detachTaskLocked cancels and forgets the current task, which keeps running
// to completion on its own.
func (c *Controller) detachTaskLocked() *Task {
	t := c.task
	if t == nil {
		return nil
	}
	t.cancel()
	c.task = nil
	if c.state == StateStreaming {
		c.state = StateActive
	}
	c.logger.Debug("stream detached", "task_id", t.id, "conversation_id", t.conv.ID)
	return t
}

func (c *Controller) resetLocked() {
	c.gen++
	c.conv = nil
	c.messages = []conversation.ChatMessage{}
	c.state = StateIdle
	c.draft = ""
}

func (c *Controller) resetIfCurrent(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.queueObservationLocked(c.messages)
	c.mu.Unlock()
	c.flushObservations()
}

// queueObservationLocked records msgs for the observer. Because it runs under
// mu, the queue order is the order in which the visible list changed.
func (c *Controller) queueObservationLocked(msgs []conversation.ChatMessage) {
	if c.opts.Observer == nil {
		return
	}
	c.obsMu.Lock()
	c.obsPending = append(c.obsPending, msgs)
	c.obsMu.Unlock()
}

// flushObservations delivers queued lists one at a time, oldest first. If
// another goroutine is already delivering, that goroutine picks up the new
// entries and this call returns without waiting.
func (c *Controller) flushObservations() {
	if c.opts.Observer == nil {
		return
	}

	c.obsMu.Lock()
	if c.obsBusy {
		c.obsMu.Unlock()
		return
	}
	c.obsBusy = true
	for len(c.obsPending) > 0 {
		batch := c.obsPending
		c.obsPending = nil
		c.obsMu.Unlock()
		for _, msgs := range batch {
			c.opts.Observer(msgs)
		}
		c.obsMu.Lock()
	}
	c.obsBusy = false
	c.obsMu.Unlock()
}

func finishReason(s *completion.Summary) string {
	if s == nil {
		return ""
	}
	return s.FinishReason
}
