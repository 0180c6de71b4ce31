package actions_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docmgr/docstore/actions"
	"github.com/docmgr/docstore/keys"
	"github.com/docmgr/docstore/lock"
	"github.com/docmgr/docstore/memory"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

// tickingClock advances one minute per reading.
func tickingClock() func() time.Time {
	var ticks atomic.Int64

	return func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Minute)
	}
}

func newService(t *testing.T, s store.Store, opts ...actions.Option) *actions.Service {
	t.Helper()

	opts = append([]actions.Option{actions.WithClock(tickingClock())}, opts...)

	svc, err := actions.New(s, opts...)
	require.NoError(t, err)

	return svc
}

func summary(list []*model.Action) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}

	return out
}

func queued(queueID string) map[string]string {
	return map[string]string{model.ParameterQueueID: queueID}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := actions.New(nil)
	require.Error(t, err)

	tests := []struct {
		name string
		opt  actions.Option
	}{
		{"negative lock timeout", actions.WithLockTimeout(-time.Second)},
		{"zero lease", actions.WithLockLease(0)},
		{"nil clock", actions.WithClock(nil)},
		{"nil logger", actions.WithLogger(nil)},
	}

	for _, tt := range tests {
		_, err := actions.New(memory.New(), tt.opt)
		require.Error(t, err, tt.name)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action *model.Action
		valid  bool
	}{
		{"nil", nil, false},
		{"unknown type", &model.Action{Type: "TRANSLATE"}, false},
		{"unknown status", &model.Action{Type: model.ActionTypeOCR, Status: "PAUSED"}, false},
		{"ocr", &model.Action{Type: model.ActionTypeOCR}, true},
		{"queue without queueId", &model.Action{Type: model.ActionTypeQueue}, false},
		{"queue", &model.Action{Type: model.ActionTypeQueue, Parameters: queued("q1")}, true},
		{"webhook without url", &model.Action{Type: model.ActionTypeWebhook}, false},
		{"webhook", &model.Action{Type: model.ActionTypeWebhook, Parameters: map[string]string{model.ParameterURL: "https://example.com"}}, true},
		{"tagging without tags", &model.Action{Type: model.ActionTypeDocumentTagging, Parameters: map[string]string{model.ParameterEngine: "chatgpt"}}, false},
		{"tagging", &model.Action{Type: model.ActionTypeDocumentTagging, Parameters: map[string]string{model.ParameterEngine: "chatgpt", model.ParameterTags: "author"}}, true},
		{"in queue without queueId", &model.Action{Type: model.ActionTypeOCR, Status: model.ActionStatusInQueue}, false},
		{"in queue", &model.Action{Type: model.ActionTypeOCR, Status: model.ActionStatusInQueue, Parameters: queued("q1")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := actions.Validate(tt.action)
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, actions.ErrInvalidAction)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, actions.CanTransition(model.ActionStatusPending, model.ActionStatusInQueue))
	assert.True(t, actions.CanTransition(model.ActionStatusPending, model.ActionStatusComplete))
	assert.True(t, actions.CanTransition(model.ActionStatusInQueue, model.ActionStatusRunning))
	assert.True(t, actions.CanTransition(model.ActionStatusRunning, model.ActionStatusFailed))

	assert.False(t, actions.CanTransition(model.ActionStatusPending, model.ActionStatusPending))
	assert.False(t, actions.CanTransition(model.ActionStatusInQueue, model.ActionStatusPending))
	assert.False(t, actions.CanTransition(model.ActionStatusRunning, model.ActionStatusInQueue))
	assert.False(t, actions.CanTransition(model.ActionStatusComplete, model.ActionStatusRunning))
	assert.False(t, actions.CanTransition(model.ActionStatusFailed, model.ActionStatusPending))
}

func TestSaveActions_GetAndOutstanding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{
		{Type: model.ActionTypeOCR},
		{Type: model.ActionTypeFullText, Status: model.ActionStatusComplete},
	}))

	list, err := svc.GetActions(ctx, "", "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1[0] OCR (PENDING)", "doc1[1] FULLTEXT (COMPLETE)"}, summary(list))
	assert.False(t, list[0].InsertedDate.IsZero())
	assert.False(t, list[1].CompletedDate.IsZero())

	page, err := svc.ListOutstandingActions(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1[0] OCR (PENDING)"}, summary(page.Actions))
	assert.Empty(t, page.Cursor)
}

func TestSaveActions_ReplacesList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{
		{Type: model.ActionTypeOCR},
		{Type: model.ActionTypeAntivirus},
	}))

	second := []*model.Action{
		{Type: model.ActionTypeFullText},
		{Type: model.ActionTypeWebhook, Parameters: map[string]string{model.ParameterURL: "https://example.com/hook"}},
	}

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", second))
	assert.Equal(t, 2, second[0].Index, "indices are not reused")
	assert.Equal(t, "doc1", second[1].DocumentID)

	list, err := svc.GetActions(ctx, "", "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1[2] FULLTEXT (PENDING)", "doc1[3] WEBHOOK (PENDING)"}, summary(list))
	assert.Equal(t, "https://example.com/hook", list[1].Parameters[model.ParameterURL])

	page, err := svc.ListActionsByStatus(ctx, "", model.ActionStatusPending, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1[2] FULLTEXT (PENDING)", "doc1[3] WEBHOOK (PENDING)"}, summary(page.Actions))
}

func TestAddActions_Appends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}}))
	require.NoError(t, svc.AddActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeFullText}}))

	list, err := svc.GetActions(ctx, "", "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1[0] OCR (PENDING)", "doc1[1] FULLTEXT (PENDING)"}, summary(list))
}

func TestSaveActions_Invalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	svc := newService(t, s)

	err := svc.SaveActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}, {Type: model.ActionTypeQueue}})
	require.ErrorIs(t, err, actions.ErrInvalidAction)
	assert.Equal(t, 0, s.Len(), "nothing is written when an action is invalid")

	err = svc.SaveActions(ctx, "", "", []*model.Action{{Type: model.ActionTypeOCR}})
	require.ErrorIs(t, err, store.ErrInvalidKey)
}

func TestSaveActions_LockUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	svc := newService(t, s, actions.WithLockTimeout(0))

	other, err := lock.New(s)
	require.NoError(t, err)

	doc, err := keys.Document("", "doc1")
	require.NoError(t, err)

	lockKey, err := keys.Lock(doc.PK, "actions")
	require.NoError(t, err)

	ok, err := other.Acquire(ctx, lockKey, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = svc.SaveActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}})
	require.ErrorIs(t, err, store.ErrLockUnavailable)

	_, err = other.Release(ctx, lockKey)
	require.NoError(t, err)

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}}))
}

func TestSaveActions_ConcurrentWritersNeverShareIndices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	var wg sync.WaitGroup

	for range 5 {
		svc := newService(t, s, actions.WithLockTimeout(5*time.Second))

		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, svc.AddActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}, {Type: model.ActionTypeFullText}}))
		}()
	}

	wg.Wait()

	list, err := newService(t, s).GetActions(ctx, "", "doc1")
	require.NoError(t, err)
	require.Len(t, list, 10)

	for n, a := range list {
		assert.Equal(t, n, a.Index)
	}
}

func TestDeleteActions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}}))
	require.NoError(t, svc.DeleteActions(ctx, "", "doc1"))

	list, err := svc.GetActions(ctx, "", "doc1")
	require.NoError(t, err)
	assert.Empty(t, list)

	page, err := svc.ListOutstandingActions(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Actions)
}

func TestUpdateActionStatus_Lifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{
		{Type: model.ActionTypeOCR, Parameters: queued("ocr-queue")},
	}))

	a, err := svc.UpdateActionStatus(ctx, "", "doc1", 0, model.ActionStatusInQueue, "")
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatusInQueue, a.Status)
	assert.False(t, a.QueuedDate.IsZero())

	page, err := svc.ListQueuedActions(ctx, "", model.ActionTypeOCR, "ocr-queue", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1[0] OCR (IN_QUEUE)"}, summary(page.Actions))

	page, err = svc.ListActionsByStatus(ctx, "", model.ActionStatusPending, "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Actions)

	page, err = svc.ListActionsByStatus(ctx, "", model.ActionStatusInQueue, "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Actions, 1)

	a, err = svc.UpdateActionStatus(ctx, "", "doc1", 0, model.ActionStatusComplete, "done")
	require.NoError(t, err)
	assert.Equal(t, "done", a.Message)
	assert.False(t, a.CompletedDate.IsZero())

	page, err = svc.ListQueuedActions(ctx, "", model.ActionTypeOCR, "ocr-queue", "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Actions)

	page, err = svc.ListOutstandingActions(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Actions)

	_, err = svc.UpdateActionStatus(ctx, "", "doc1", 0, model.ActionStatusRunning, "")
	require.ErrorIs(t, err, actions.ErrInvalidTransition)

	stored, err := svc.GetAction(ctx, "", "doc1", 0)
	require.NoError(t, err)
	assert.Equal(t, model.ActionStatusComplete, stored.Status)
	assert.Equal(t, "done", stored.Message)
}

func TestUpdateActionStatus_Invalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}}))

	a, err := svc.UpdateActionStatus(ctx, "", "doc1", 7, model.ActionStatusRunning, "")
	require.NoError(t, err)
	assert.Nil(t, a)

	_, err = svc.UpdateActionStatus(ctx, "", "doc1", 0, "PAUSED", "")
	require.ErrorIs(t, err, actions.ErrInvalidAction)

	_, err = svc.UpdateActionStatus(ctx, "", "doc1", 0, model.ActionStatusInQueue, "")
	require.ErrorIs(t, err, actions.ErrInvalidAction, "queueing requires a queueId")

	_, err = svc.UpdateActionStatus(ctx, "", "doc1", -1, model.ActionStatusRunning, "")
	require.ErrorIs(t, err, store.ErrInvalidKey)
}

func TestUpdateActionStatus_ConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{{Type: model.ActionTypeOCR}}))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := svc.UpdateActionStatus(ctx, "", "doc1", 0, model.ActionStatusRunning, "")

			switch {
			case err == nil:
				winners.Add(1)
			case errors.Is(err, store.ErrPreconditionFailed), errors.Is(err, actions.ErrInvalidTransition):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestListQueuedActions_OldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	// doc3 is saved first but dispatched last.
	for _, doc := range []string{"doc3", "doc1", "doc2"} {
		require.NoError(t, svc.SaveActions(ctx, "", doc, []*model.Action{
			{Type: model.ActionTypeQueue, Parameters: queued("review")},
		}))
	}

	for _, doc := range []string{"doc1", "doc2", "doc3"} {
		_, err := svc.UpdateActionStatus(ctx, "", doc, 0, model.ActionStatusInQueue, "")
		require.NoError(t, err)
	}

	page, err := svc.ListQueuedActions(ctx, "", model.ActionTypeQueue, "review", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc1[0] QUEUE (IN_QUEUE)", "doc2[0] QUEUE (IN_QUEUE)"}, summary(page.Actions))
	require.NotEmpty(t, page.Cursor)

	page, err = svc.ListQueuedActions(ctx, "", model.ActionTypeQueue, "review", page.Cursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc3[0] QUEUE (IN_QUEUE)"}, summary(page.Actions))
	assert.Empty(t, page.Cursor)

	page, err = svc.ListQueuedActions(ctx, "", model.ActionTypeQueue, "other", "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Actions)

	_, err = svc.ListQueuedActions(ctx, "", "TRANSLATE", "review", "", 0)
	require.ErrorIs(t, err, actions.ErrInvalidAction)

	_, err = svc.ListQueuedActions(ctx, "", model.ActionTypeQueue, "", "", 0)
	require.ErrorIs(t, err, store.ErrInvalidKey)
}

func TestListOutstandingActions_PagesAcrossStatuses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "", "doc1", []*model.Action{
		{Type: model.ActionTypeOCR},
		{Type: model.ActionTypeFullText},
		{Type: model.ActionTypeAntivirus},
		{Type: model.ActionTypeQueue, Status: model.ActionStatusInQueue, Parameters: queued("q")},
		{Type: model.ActionTypeNotification, Status: model.ActionStatusFailed},
		{Type: model.ActionTypeWebhook, Status: model.ActionStatusComplete, Parameters: map[string]string{model.ParameterURL: "https://x"}},
	}))

	var (
		got    []string
		cursor string
		pages  int
	)

	for {
		page, err := svc.ListOutstandingActions(ctx, "", cursor, 2)
		require.NoError(t, err)

		got = append(got, summary(page.Actions)...)
		pages++

		if page.Cursor == "" {
			break
		}

		cursor = page.Cursor
	}

	assert.Equal(t, []string{
		"doc1[0] OCR (PENDING)",
		"doc1[1] FULLTEXT (PENDING)",
		"doc1[2] ANTIVIRUS (PENDING)",
		"doc1[3] QUEUE (IN_QUEUE)",
		"doc1[4] NOTIFICATION (FAILED)",
	}, got)
	assert.Equal(t, 3, pages)

	_, err := svc.ListOutstandingActions(ctx, "", "bogus", 2)
	require.Error(t, err)
}

func TestListActionsByStatus_Complete(t *testing.T) {
	t.Parallel()

	svc := newService(t, memory.New())

	_, err := svc.ListActionsByStatus(context.Background(), "", model.ActionStatusComplete, "", 0)
	require.ErrorIs(t, err, actions.ErrInvalidAction)
}

func TestSites_AreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, memory.New())

	require.NoError(t, svc.SaveActions(ctx, "tenant1", "doc1", []*model.Action{{Type: model.ActionTypeOCR}}))

	list, err := svc.GetActions(ctx, "", "doc1")
	require.NoError(t, err)
	assert.Empty(t, list)

	page, err := svc.ListOutstandingActions(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, page.Actions)

	page, err = svc.ListOutstandingActions(ctx, "tenant1", "", 0)
	require.NoError(t, err)
	assert.Len(t, page.Actions, 1)
}
