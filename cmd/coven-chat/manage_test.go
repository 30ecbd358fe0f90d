// ABOUTME: Tests for management subcommands against an in-memory store
// ABOUTME: Confirms outcomes reach the user through the notification sink

package main

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/broadcast"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/settings"
	"github.com/2389/coven-chat/internal/store"
)

type recordingSink struct {
	mu        sync.Mutex
	successes []string
	failures  []string
	errs      []error
}

func (r *recordingSink) ReportError(err error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.failures = append(r.failures, context)
}

func (r *recordingSink) ReportSuccess(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, message)
}

func newTestApp(t *testing.T) (*app, *store.MockStore, *recordingSink) {
	t.Helper()

	ms := store.NewMockStore()
	n := broadcast.NewNotifier(nil)
	t.Cleanup(n.Close)

	prefs, err := settings.Load(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, err)

	sink := &recordingSink{}
	return &app{
		cfg:      config.Default(t.TempDir()),
		store:    ms,
		notifier: n,
		repo:     conversation.NewRepository(ms, n, nil),
		settings: prefs,
		sink:     sink,
	}, ms, sink
}

func seed(t *testing.T, a *app, id, group int64) {
	t.Helper()
	require.NoError(t, a.repo.Add(t.Context(), &store.Conversation{
		ID:        id,
		GroupID:   group,
		CreatedAt: id,
		Title:     "chat",
		Model:     "echo-1",
		Messages:  "[]",
	}))
}

func TestRunClear_ReportsSuccess(t *testing.T) {
	a, _, sink := newTestApp(t)
	seed(t, a, 1, 0)
	seed(t, a, 2, 3)

	require.NoError(t, runClear(t.Context(), a, []string{"--yes"}))

	assert.Equal(t, []string{"All conversations deleted"}, sink.successes)
	assert.Empty(t, sink.failures)
	list, err := a.repo.LoadRecentSummaries(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRunClear_RequiresConfirmation(t *testing.T) {
	a, _, sink := newTestApp(t)
	seed(t, a, 1, 0)

	err := runClear(t.Context(), a, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errReported)
	assert.Empty(t, sink.successes)

	n, err := a.repo.CountByGroup(t.Context(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunClear_StorageFailureIsReported(t *testing.T) {
	a, ms, sink := newTestApp(t)
	ms.SetFailure(errors.New("disk full"))

	err := runClear(t.Context(), a, []string{"--yes"})
	assert.ErrorIs(t, err, errReported)
	require.Len(t, sink.errs, 1)
	assert.ErrorIs(t, sink.errs[0], store.ErrStorage)
	assert.Equal(t, []string{"Failed to delete conversations"}, sink.failures)
	assert.Empty(t, sink.successes)
}

func TestRunDelete_MissingIsReported(t *testing.T) {
	a, _, sink := newTestApp(t)

	err := runDelete(t.Context(), a, []string{"99"})
	assert.ErrorIs(t, err, errReported)
	require.Len(t, sink.errs, 1)
	assert.ErrorIs(t, sink.errs[0], store.ErrNotFound)
}

func TestRunDeleteGroup_ReportsCount(t *testing.T) {
	a, _, sink := newTestApp(t)
	seed(t, a, 1, 7)
	seed(t, a, 2, 7)
	seed(t, a, 3, 1)

	require.NoError(t, runDeleteGroup(t.Context(), a, []string{"7"}))
	assert.Equal(t, []string{"Deleted 2 conversation(s) in group 7"}, sink.successes)

	n, err := a.repo.CountByGroup(t.Context(), 7)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunRenameAndMove(t *testing.T) {
	a, _, sink := newTestApp(t)
	seed(t, a, 1, 0)

	require.NoError(t, runRename(t.Context(), a, []string{"1", "Trip", "plans"}))
	require.NoError(t, runMove(t.Context(), a, []string{"1", "4"}))

	c, err := a.repo.GetByID(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Trip plans", c.Title)
	assert.Equal(t, int64(4), c.GroupID)
	assert.Equal(t, []string{`Renamed 1 to "Trip plans"`, "Moved 1 to group 4"}, sink.successes)
}

func TestRunSettings_InvalidThemeIsReported(t *testing.T) {
	a, _, sink := newTestApp(t)

	require.NoError(t, runSettings(t.Context(), a, []string{"theme", "dark"}))
	err := runSettings(t.Context(), a, []string{"theme", "neon"})
	assert.ErrorIs(t, err, errReported)

	assert.Equal(t, []string{"Updated theme"}, sink.successes)
	assert.Equal(t, []string{"Failed to update theme"}, sink.failures)
	assert.Equal(t, settings.ThemeDark, a.settings.Theme())
}
