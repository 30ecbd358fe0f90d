// ABOUTME: Tests for the streaming session Controller
// ABOUTME: Uses a scripted transport over a real repository and MockStore

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/broadcast"
	"github.com/2389/coven-chat/internal/completion"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

// scriptedTransport runs script for every call and records the requests
type scriptedTransport struct {
	mu       sync.Mutex
	requests []*completion.Request
	script   func(ctx context.Context, deltas chan<- string) error
}

func (s *scriptedTransport) SendStreamed(ctx context.Context, req *completion.Request, deltas chan<- string) (*completion.Summary, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if err := s.script(ctx, deltas); err != nil {
		return nil, err
	}
	return &completion.Summary{Model: req.Model, FinishReason: completion.FinishStop}, nil
}

func (s *scriptedTransport) lastRequest() *completion.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func sendAll(chunks ...string) func(context.Context, chan<- string) error {
	return func(ctx context.Context, deltas chan<- string) error {
		for _, c := range chunks {
			deltas <- c
		}
		return nil
	}
}

type recordingSink struct {
	mu     sync.Mutex
	errs   []error
	labels []string
}

func (r *recordingSink) ReportError(err error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.labels = append(r.labels, context)
}

func (r *recordingSink) ReportSuccess(string) {}

func (r *recordingSink) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type staticSettings string

func (s staticSettings) Instructions() string { return string(s) }

type harness struct {
	ctrl      *Controller
	repo      *conversation.Repository
	store     *store.MockStore
	transport *scriptedTransport
	sink      *recordingSink
	events    *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []broadcast.ChangeEvent
}

func (e *eventLog) handle(ev broadcast.ChangeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *eventLog) actions() []broadcast.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]broadcast.Action, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Action
	}
	return out
}

func newHarness(t *testing.T, script func(context.Context, chan<- string) error, opts Options) *harness {
	t.Helper()

	n := broadcast.NewNotifier(nil)
	t.Cleanup(n.Close)
	events := &eventLog{}
	n.Subscribe(events.handle)

	ms := store.NewMockStore()
	repo := conversation.NewRepository(ms, n, nil)
	transport := &scriptedTransport{script: script}
	sink := &recordingSink{}

	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	}
	ctrl := NewController(repo, transport, sink, staticSettings("Answer in French."), opts, nil)

	return &harness{ctrl: ctrl, repo: repo, store: ms, transport: transport, sink: sink, events: events}
}

func (h *harness) submit(t *testing.T, text string) *Task {
	t.Helper()
	task, err := h.ctrl.Submit(t.Context(), text, nil)
	require.NoError(t, err)
	require.NoError(t, task.Wait(t.Context()))
	return task
}

func (h *harness) storedMessages(t *testing.T, id int64) []conversation.ChatMessage {
	t.Helper()
	c, err := h.repo.GetByID(t.Context(), id)
	require.NoError(t, err)
	msgs, err := h.repo.GetMessages(c)
	require.NoError(t, err)
	return msgs
}

func TestController_SubmitFromIdleCreatesConversation(t *testing.T) {
	h := newHarness(t, sendAll("Hello", " world"), Options{DefaultModel: "echo-2", MaxTitleLength: 40})
	assert.Equal(t, StateIdle, h.ctrl.State())

	task := h.submit(t, "  \nLine one\nLine two")
	assert.Equal(t, OutcomeCompleted, task.Outcome())

	conv := h.ctrl.Conversation()
	require.NotNil(t, conv)
	assert.Equal(t, "Line one", conv.Title)
	assert.Equal(t, "echo-2", conv.Model)
	assert.Equal(t, "Answer in French.", conv.SystemPrompt)
	assert.Equal(t, int64(1_700_000_000_000), conv.CreatedAt)
	assert.Equal(t, conv.ID, task.ConversationID())

	want := []conversation.ChatMessage{
		{ID: 1, Role: conversation.RoleUser, Type: conversation.MessageNormal, Content: "  \nLine one\nLine two"},
		{ID: 2, Role: conversation.RoleAssistant, Type: conversation.MessageNormal, Content: "Hello world"},
	}
	assert.Equal(t, want, h.ctrl.Messages())
	assert.Equal(t, want, h.storedMessages(t, conv.ID))
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.False(t, h.ctrl.Loading())

	// add on creation, edit for the user message, edit for the final list
	assert.Equal(t, []broadcast.Action{broadcast.ActionAdd, broadcast.ActionEdit, broadcast.ActionEdit}, h.events.actions())
	assert.Empty(t, h.sink.errors())
}

func TestController_RequestCarriesSystemPromptAndSkipsErrors(t *testing.T) {
	calls := 0
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		calls++
		if calls == 1 {
			return &completion.BackendError{Message: "Model overloaded."}
		}
		deltas <- "ok"
		return nil
	}, Options{})

	h.submit(t, "first")
	h.submit(t, "second")

	req := h.transport.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, DefaultModel, req.Model)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, conversation.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Answer in French.", req.Messages[0].Content)
	assert.Equal(t, "first", req.Messages[1].Content)
	assert.Equal(t, "second", req.Messages[2].Content)

	// The error message is still part of the visible history
	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, conversation.MessageError, msgs[1].Type)
	assert.Equal(t, 3, msgs[2].ID)
}

func TestController_BackendErrorBecomesErrorMessage(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		return &completion.BackendError{Code: "429", Message: "You are sending messages too fast."}
	}, Options{})

	task := h.submit(t, "hello")
	assert.Equal(t, OutcomeBackendError, task.Outcome())

	want := []conversation.ChatMessage{
		{ID: 1, Role: conversation.RoleUser, Type: conversation.MessageNormal, Content: "hello"},
		{ID: 2, Role: conversation.RoleAssistant, Type: conversation.MessageError, Content: "You are sending messages too fast."},
	}
	assert.Equal(t, want, h.ctrl.Messages())
	assert.Equal(t, want, h.storedMessages(t, task.ConversationID()))
	assert.Empty(t, h.sink.errors(), "recognized backend errors are shown in the chat, not the sink")
	assert.Equal(t, StateActive, h.ctrl.State())
}

func TestController_UnexpectedErrorRevertsAndReports(t *testing.T) {
	boom := errors.New("connection reset")
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		deltas <- "partial answ"
		return boom
	}, Options{})

	task := h.submit(t, "hello")
	assert.Equal(t, OutcomeFailed, task.Outcome())
	assert.ErrorIs(t, task.Err(), boom)

	want := []conversation.ChatMessage{
		{ID: 1, Role: conversation.RoleUser, Type: conversation.MessageNormal, Content: "hello"},
	}
	assert.Equal(t, want, h.ctrl.Messages())
	assert.Equal(t, want, h.storedMessages(t, task.ConversationID()))

	errs := h.sink.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.Equal(t, StateActive, h.ctrl.State())
}

func TestController_CancelKeepsPartialAndLateDeltas(t *testing.T) {
	firstSent := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		deltas <- "Bon"
		close(firstSent)
		<-ctx.Done()
		// Arrives after cancel but before the transport stops
		deltas <- "jour"
		return ctx.Err()
	}, Options{})

	task, err := h.ctrl.Submit(t.Context(), "salut", nil)
	require.NoError(t, err)
	assert.True(t, h.ctrl.Loading())

	<-firstSent
	assert.True(t, h.ctrl.Cancel())
	require.NoError(t, task.Wait(t.Context()))

	assert.Equal(t, OutcomeCancelled, task.Outcome())
	msgs := h.storedMessages(t, task.ConversationID())
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bonjour", msgs[1].Content)
	assert.Equal(t, msgs, h.ctrl.Messages())
	assert.Empty(t, h.sink.errors())
	assert.False(t, h.ctrl.Cancel(), "nothing left to cancel")
}

func TestController_SubmitWhileStreamingIsBusy(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		<-release
		return nil
	}, Options{})

	task, err := h.ctrl.Submit(t.Context(), "one", nil)
	require.NoError(t, err)

	_, err = h.ctrl.Submit(t.Context(), "two", nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, task.Wait(t.Context()))
	assert.Len(t, h.ctrl.Messages(), 1)
}

func TestController_SelectLoadsConversation(t *testing.T) {
	h := newHarness(t, sendAll("reply"), Options{})

	first := h.submit(t, "first conversation")
	h.ctrl.StartNew()
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.ctrl.Messages())
	assert.Nil(t, h.ctrl.Conversation())

	h.ctrl.SetDraft("unsent")
	require.NoError(t, h.ctrl.Select(t.Context(), first.ConversationID()))
	assert.Equal(t, StateActive, h.ctrl.State())
	assert.Equal(t, "", h.ctrl.Draft())
	assert.Len(t, h.ctrl.Messages(), 2)

	// Continuing appends with dense ids
	h.submit(t, "follow up")
	msgs := h.storedMessages(t, first.ConversationID())
	require.Len(t, msgs, 4)
	assert.Equal(t, 3, msgs[2].ID)
	assert.Equal(t, 4, msgs[3].ID)
}

func TestController_SelectMissingResetsToIdle(t *testing.T) {
	h := newHarness(t, sendAll("reply"), Options{})
	h.submit(t, "something")

	err := h.ctrl.Select(t.Context(), 12345)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.Conversation())

	errs := h.sink.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], store.ErrNotFound)
}

func TestController_SelectDecodeErrorKeepsState(t *testing.T) {
	h := newHarness(t, sendAll("reply"), Options{})
	ctx := t.Context()

	corrupt := &store.Conversation{ID: 77, CreatedAt: 1, Title: "broken", Messages: "{not a list"}
	require.NoError(t, h.store.Put(ctx, corrupt))

	task := h.submit(t, "current")
	before := h.ctrl.Messages()

	err := h.ctrl.Select(ctx, 77)
	var decodeErr *conversation.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, before, h.ctrl.Messages())
	assert.Equal(t, task.ConversationID(), h.ctrl.Conversation().ID)
	assert.Len(t, h.sink.errors(), 1)
}

func TestController_SelectEmptyListGoesIdle(t *testing.T) {
	h := newHarness(t, sendAll("reply"), Options{})
	ctx := t.Context()

	empty := &store.Conversation{ID: 88, CreatedAt: 1, Title: "empty", Messages: "[]"}
	require.NoError(t, h.store.Put(ctx, empty))

	require.NoError(t, h.ctrl.Select(ctx, 88))
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.sink.errors())
}

func TestController_NavigatingAwayPersistsDetachedTask(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		deltas <- "partial"
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, Options{})

	task, err := h.ctrl.Submit(t.Context(), "question", nil)
	require.NoError(t, err)
	<-started

	h.ctrl.StartNew()
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.ctrl.Messages())

	require.NoError(t, task.Wait(t.Context()))
	assert.Equal(t, OutcomeCancelled, task.Outcome())

	msgs := h.storedMessages(t, task.ConversationID())
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)

	// The detached task must not leak into the new, empty session
	assert.Empty(t, h.ctrl.Messages())
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestController_SelectWaitsForCancelledTask(t *testing.T) {
	started := make(chan struct{})
	calls := 0
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		calls++
		if calls == 1 {
			deltas <- "first reply"
			return nil
		}
		deltas <- "cut"
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, Options{})

	first := h.submit(t, "one")
	h.ctrl.StartNew()

	second, err := h.ctrl.Submit(t.Context(), "two", nil)
	require.NoError(t, err)
	<-started

	// Switching back cancels the second stream, which commits before the load
	require.NoError(t, h.ctrl.Select(t.Context(), second.ConversationID()))
	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "cut", msgs[1].Content)

	require.NoError(t, h.ctrl.Select(t.Context(), first.ConversationID()))
	assert.Equal(t, "first reply", h.ctrl.Messages()[1].Content)
}

func TestController_ObserverSeesEveryChange(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  [][]conversation.ChatMessage
		extra = make(chan struct{})
	)
	opts := Options{Observer: func(msgs []conversation.ChatMessage) {
		mu.Lock()
		seen = append(seen, msgs)
		mu.Unlock()
	}}
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		deltas <- "a"
		deltas <- "b"
		close(extra)
		return nil
	}, opts)

	h.submit(t, "go")
	<-extra

	mu.Lock()
	defer mu.Unlock()
	// user message, two deltas, final
	require.Len(t, seen, 4)
	assert.Len(t, seen[0], 1)
	assert.Equal(t, "a", seen[1][1].Content)
	assert.Equal(t, "ab", seen[2][1].Content)
	assert.Equal(t, "ab", seen[3][1].Content)
}

func TestController_PersistFailureIsReported(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.transport.script = func(ctx context.Context, deltas chan<- string) error {
		deltas <- "reply"
		h.store.SetFailure(errors.New("quota exceeded"))
		return nil
	}

	task := h.submit(t, "hello")
	assert.Equal(t, OutcomeCompleted, task.Outcome())
	assert.ErrorIs(t, task.SaveErr(), store.ErrStorage)

	errs := h.sink.errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], store.ErrStorage)

	// In-memory list is intact even though the write failed
	assert.Len(t, h.ctrl.Messages(), 2)
}

func TestController_CreateFailureLeavesIdle(t *testing.T) {
	h := newHarness(t, sendAll("reply"), Options{})
	h.store.SetFailure(errors.New("read-only filesystem"))

	_, err := h.ctrl.Submit(t.Context(), "hello", nil)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.ctrl.Messages())

	// The controller is usable again once storage recovers
	h.store.SetFailure(nil)
	h.submit(t, "hello again")
	assert.Len(t, h.ctrl.Messages(), 2)
}

func TestController_AttachmentsAreCopied(t *testing.T) {
	h := newHarness(t, sendAll("got it"), Options{})
	atts := []conversation.Attachment{{ID: "f1", Filename: "plan.pdf", MimeType: "application/pdf"}}

	task, err := h.ctrl.Submit(t.Context(), "see attached", atts)
	require.NoError(t, err)
	atts[0].Filename = "changed.pdf"
	require.NoError(t, task.Wait(t.Context()))

	msgs := h.storedMessages(t, task.ConversationID())
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "plan.pdf", msgs[0].Attachments[0].Filename)
}

func TestController_DraftClearedOnSubmit(t *testing.T) {
	h := newHarness(t, sendAll("x"), Options{})
	h.ctrl.SetDraft("typing...")
	assert.Equal(t, "typing...", h.ctrl.Draft())

	h.submit(t, "typing...")
	assert.Equal(t, "", h.ctrl.Draft())
}

func TestController_ObserverEndsOnLatestListAfterStartNew(t *testing.T) {
	var (
		mu      sync.Mutex
		last    []conversation.ChatMessage
		blocked bool
	)
	entered := make(chan struct{})
	release := make(chan struct{})

	opts := Options{Observer: func(msgs []conversation.ChatMessage) {
		mu.Lock()
		last = msgs
		hold := !blocked && len(msgs) == 2
		if hold {
			blocked = true
		}
		mu.Unlock()

		if hold {
			close(entered)
			<-release
		}
	}}
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		deltas <- "Hello"
		<-ctx.Done()
		return ctx.Err()
	}, opts)

	task, err := h.ctrl.Submit(t.Context(), "hi", nil)
	require.NoError(t, err)
	<-entered

	// The reconciler is stuck inside the observer with the old list
	returned := make(chan struct{})
	go func() {
		h.ctrl.StartNew()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("StartNew blocked behind a running observer")
	}
	assert.Empty(t, h.ctrl.Messages())

	close(release)
	require.NoError(t, task.Wait(t.Context()))

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, last, "observer must finish on the list StartNew produced")
}

func TestController_SelectWaitFailureResetsToIdle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, deltas chan<- string) error {
		deltas <- "partial"
		close(started)
		// A transport that is slow to notice cancellation
		<-release
		return nil
	}, Options{})

	task, err := h.ctrl.Submit(t.Context(), "question", nil)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err = h.ctrl.Select(ctx, task.ConversationID())
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.ctrl.Messages())
	assert.Nil(t, h.ctrl.Conversation())

	close(release)
	require.NoError(t, task.Wait(t.Context()))

	msgs := h.storedMessages(t, task.ConversationID())
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Empty(t, h.ctrl.Messages())
}
