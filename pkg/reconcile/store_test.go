package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	ID       string
	ClientID string
	Room     string
	Sender   string
	Text     string
	At       time.Time
	Read     bool
	State    SyncState
}

func (m *testMsg) RecordID() string { return m.ID }
func (m *testMsg) SetRecordID(id string) { m.ID = id }
func (m *testMsg) RecordClientID() string { return m.ClientID }
func (m *testMsg) SetRecordClientID(id string) { m.ClientID = id }
func (m *testMsg) RecordScope() string { return m.Room }
func (m *testMsg) RecordSender() string { return m.Sender }
func (m *testMsg) RecordContent() string { return m.Text }
func (m *testMsg) RecordTime() time.Time { return m.At }
func (m *testMsg) IsRead() bool { return m.Read }
func (m *testMsg) SetRead(read bool) { m.Read = read }
func (m *testMsg) SyncState() SyncState { return m.State }
func (m *testMsg) SetSyncState(state SyncState) { m.State = state }
func (m *testMsg) Clone() *testMsg { c := *m; return &c }

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore() *Store[*testMsg] {
	return NewStore[*testMsg](Options[*testMsg]{
		Validate: func(m *testMsg) error {
			if m.Text == "" {
				return errors.New("empty content")
			}
			return nil
		},
	})
}

func echoServer(id string) SendFunc[*testMsg] {
	return func(ctx context.Context, m *testMsg) (*testMsg, error) {
		out := m.Clone()
		out.ID = id
		out.State = ""
		return out, nil
	}
}

func ids(list []*testMsg) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func TestSubmitConfirmReplacesTemporaryRecord(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	got, err := s.Submit(ctx, &testMsg{ID: "tmp-1", Room: "c-1", Sender: "u-1", Text: "hello", At: base}, echoServer("srv-42"))
	require.NoError(t, err)
	assert.Equal(t, "srv-42", got.ID)

	list := s.Snapshot("c-1")
	require.Len(t, list, 1)
	assert.Equal(t, "srv-42", list[0].ID)
	assert.Equal(t, "hello", list[0].Text)
	assert.Equal(t, StateConfirmed, list[0].State)
	assert.Equal(t, "tmp-1", list[0].ClientID)
	_, ok := s.Get("c-1", "tmp-1")
	assert.True(t, ok, "client id still resolves to the confirmed record")
}

func TestSubmitKeepsPosition(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	s.Replace("c-1", []*testMsg{
		{ID: "a", Room: "c-1", Text: "a", At: base},
		{ID: "b", Room: "c-1", Text: "b", At: base.Add(time.Second)},
	})

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Submit(ctx, &testMsg{ID: "tmp-1", Room: "c-1", Sender: "me", Text: "mine", At: base.Add(2 * time.Second)},
			func(ctx context.Context, m *testMsg) (*testMsg, error) {
				<-release
				out := m.Clone()
				out.ID = "srv-1"
				out.At = base.Add(5 * time.Second)
				return out, nil
			})
		assert.NoError(t, err)
	}()

	// 等待 optimistic insert
	require.Eventually(t, func() bool { return len(s.Snapshot("c-1")) == 3 }, time.Second, time.Millisecond)
	s.Ingest(&testMsg{ID: "c", Room: "c-1", Sender: "other", Text: "c", At: base.Add(3 * time.Second)})
	close(release)
	<-done

	assert.Equal(t, []string{"a", "b", "srv-1", "c"}, ids(s.Snapshot("c-1")))
}

func TestSubmitRejectsInvalidBeforeInsertion(t *testing.T) {
	s := newTestStore()
	called := false
	_, err := s.Submit(context.Background(), &testMsg{Room: "c-1", Sender: "u"}, func(ctx context.Context, m *testMsg) (*testMsg, error) {
		called = true
		return m, nil
	})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.False(t, called)
	assert.Empty(t, s.Snapshot("c-1"))
}

func TestSubmitFailureMarksFailedAndQueues(t *testing.T) {
	s := newTestStore()
	netErr := errors.New("connection refused")

	got, err := s.Submit(context.Background(), &testMsg{Room: "c-1", Sender: "u", Text: "hi", At: base},
		func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, netErr })
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, netErr)
	require.NotNil(t, got)
	assert.True(t, IsTempID(got.ID))
	assert.Equal(t, StateFailed, got.State)

	list := s.Snapshot("c-1")
	require.Len(t, list, 1, "failed record stays in place")
	assert.Equal(t, StateFailed, list[0].State)
	assert.Equal(t, 1, s.Pending())
	assert.Len(t, s.Failed(), 1)
}

func TestRetryDrainsQueueOnce(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	offline := func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("offline") }

	var tempIDs []string
	for i := 0; i < 3; i++ {
		got, err := s.Submit(ctx, &testMsg{Room: "c-1", Sender: "u", Text: fmt.Sprintf("m%d", i), At: base.Add(time.Duration(i) * time.Second)}, offline)
		require.Error(t, err)
		tempIDs = append(tempIDs, got.ID)
	}
	require.Equal(t, 3, s.Pending())

	var mu sync.Mutex
	calls := map[string]int{}
	online := func(ctx context.Context, m *testMsg) (*testMsg, error) {
		mu.Lock()
		calls[m.ClientID]++
		mu.Unlock()
		out := m.Clone()
		out.ID = "srv-" + m.Text
		return out, nil
	}

	sent, err := s.Retry(ctx, online)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, 0, s.Pending())
	for _, id := range tempIDs {
		assert.Equal(t, 1, calls[id], "sent exactly once with the same temporary id")
	}
	assert.Equal(t, []string{"srv-m0", "srv-m1", "srv-m2"}, ids(s.Snapshot("c-1")))

	sent, err = s.Retry(ctx, online)
	assert.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestConcurrentRetryDoesNotDoubleSend(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, _ = s.Submit(ctx, &testMsg{Room: "c-1", Sender: "u", Text: "x", At: base},
		func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("offline") })

	var calls int32
	gate := make(chan struct{})
	send := func(ctx context.Context, m *testMsg) (*testMsg, error) {
		atomic.AddInt32(&calls, 1)
		<-gate
		out := m.Clone()
		out.ID = "srv-x"
		return out, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Retry(ctx, send)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"srv-x"}, ids(s.Snapshot("c-1")))
}

func TestRetryFailureKeepsQueue(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	offline := func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("offline") }
	_, _ = s.Submit(ctx, &testMsg{Room: "c-1", Sender: "u", Text: "x", At: base}, offline)

	sent, err := s.Retry(ctx, offline)
	assert.Error(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, StateFailed, s.Snapshot("c-1")[0].State)
}

func TestSubmitLostResponseAfterFanIn(t *testing.T) {
	s := newTestStore()
	send := func(ctx context.Context, m *testMsg) (*testMsg, error) {
		echo := m.Clone()
		echo.ID = "srv-9"
		echo.State = ""
		s.Ingest(echo)
		return nil, errors.New("connection reset")
	}

	rec, err := s.Submit(context.Background(), &testMsg{Room: "r", Sender: "me", Text: "hi", At: base}, send)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "srv-9", rec.ID)
	assert.Equal(t, StateConfirmed, rec.State)
	assert.Len(t, s.Snapshot("r"), 1)
	assert.Empty(t, s.Failed())
}

func TestIngest(t *testing.T) {
	t.Run("同一個 id 推送兩次只留一筆", func(t *testing.T) {
		s := newTestStore()
		ev := &testMsg{ID: "m-1", Room: "c-1", Sender: "u-2", Text: "hey", At: base}
		_, inserted := s.Ingest(ev)
		assert.True(t, inserted)
		once := s.Snapshot("c-1")

		_, inserted = s.Ingest(ev)
		assert.False(t, inserted)
		assert.Equal(t, once, s.Snapshot("c-1"))
		assert.Equal(t, 1, s.Unread("c-1"))
	})

	t.Run("client id 回傳時合併樂觀紀錄", func(t *testing.T) {
		s := newTestStore()
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := s.Submit(context.Background(), &testMsg{ID: "tmp-9", Room: "c-1", Sender: "me", Text: "yo", At: base},
				func(ctx context.Context, m *testMsg) (*testMsg, error) {
					<-release
					out := m.Clone()
					out.ID = "srv-9"
					return out, nil
				})
			assert.NoError(t, err)
		}()
		require.Eventually(t, func() bool { return len(s.Snapshot("c-1")) == 1 }, time.Second, time.Millisecond)

		// push 比 response 先到
		_, inserted := s.Ingest(&testMsg{ID: "srv-9", ClientID: "tmp-9", Room: "c-1", Sender: "me", Text: "yo", At: base.Add(time.Second)})
		assert.False(t, inserted)
		close(release)
		<-done

		list := s.Snapshot("c-1")
		require.Len(t, list, 1)
		assert.Equal(t, "srv-9", list[0].ID)
		assert.Equal(t, StateConfirmed, list[0].State)
		assert.Equal(t, 0, s.Unread("c-1"))
	})

	t.Run("heuristic 只比對未確認紀錄", func(t *testing.T) {
		s := newTestStore()
		s.Replace("c-1", []*testMsg{{ID: "old", Room: "c-1", Sender: "u", Text: "same", At: base, Read: true}})
		_, inserted := s.Ingest(&testMsg{ID: "new", Room: "c-1", Sender: "u", Text: "same", At: base.Add(time.Second)})
		assert.True(t, inserted)
		assert.Len(t, s.Snapshot("c-1"), 2)
	})

	t.Run("heuristic 在 window 內合併", func(t *testing.T) {
		s := newTestStore()
		_, _ = s.Submit(context.Background(), &testMsg{Room: "c-1", Sender: "u", Text: "same", At: base},
			func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("timeout") })
		_, inserted := s.Ingest(&testMsg{ID: "srv-1", Room: "c-1", Sender: "u", Text: "same", At: base.Add(2 * time.Second)})
		assert.False(t, inserted)
		list := s.Snapshot("c-1")
		require.Len(t, list, 1)
		assert.Equal(t, "srv-1", list[0].ID)
		assert.Equal(t, 0, s.Pending(), "merged record leaves the outbox")
	})

	t.Run("超過 window 視為新訊息", func(t *testing.T) {
		s := newTestStore()
		_, _ = s.Submit(context.Background(), &testMsg{Room: "c-1", Sender: "u", Text: "same", At: base},
			func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("timeout") })
		_, inserted := s.Ingest(&testMsg{ID: "srv-1", Room: "c-1", Sender: "u", Text: "same", At: base.Add(10 * time.Second)})
		assert.True(t, inserted)
	})

	t.Run("關閉 heuristic", func(t *testing.T) {
		s := NewStore[*testMsg](Options[*testMsg]{MatchWindow: -1})
		_, _ = s.Submit(context.Background(), &testMsg{Room: "c-1", Sender: "u", Text: "same", At: base},
			func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("timeout") })
		_, inserted := s.Ingest(&testMsg{ID: "srv-1", Room: "c-1", Sender: "u", Text: "same", At: base})
		assert.True(t, inserted)
	})

	t.Run("依時間插入, 同時間保持到達順序", func(t *testing.T) {
		s := newTestStore()
		s.Ingest(&testMsg{ID: "3", Room: "c-1", Text: "3", At: base.Add(3 * time.Second)})
		s.Ingest(&testMsg{ID: "1", Room: "c-1", Text: "1", At: base.Add(1 * time.Second)})
		s.Ingest(&testMsg{ID: "2a", Room: "c-1", Text: "2a", At: base.Add(2 * time.Second)})
		s.Ingest(&testMsg{ID: "2b", Room: "c-1", Text: "2b", At: base.Add(2 * time.Second)})
		assert.Equal(t, []string{"1", "2a", "2b", "3"}, ids(s.Snapshot("c-1")))
	})
}

func TestMarkScopeRead(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 5; i++ {
		s.Ingest(&testMsg{ID: fmt.Sprintf("c1-%d", i), Room: "c-1", Text: "x", At: base.Add(time.Duration(i) * time.Second)})
	}
	s.Ingest(&testMsg{ID: "c2-0", Room: "c-2", Text: "y", At: base})
	require.Equal(t, 5, s.Unread("c-1"))
	before := s.TotalUnread()

	n := s.MarkScopeRead("c-1")
	assert.Equal(t, 5, n)
	assert.Equal(t, 0, s.Unread("c-1"))
	assert.Equal(t, before-5, s.TotalUnread())
	assert.Equal(t, 1, s.TotalUnread())
}

func TestMarkReadFloorsAtZero(t *testing.T) {
	s := newTestStore()
	s.Ingest(&testMsg{ID: "m-1", Room: "c-1", Text: "x", At: base})

	changed, err := s.MarkRead("c-1", "m-1")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.MarkRead("c-1", "m-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, s.Unread("c-1"))

	_, err = s.MarkRead("c-1", "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAggregateEqualsSumOfScopes(t *testing.T) {
	s := newTestStore()
	rng := rand.New(rand.NewSource(42))
	scopes := []string{"a", "b", "c", "d"}

	for i := 0; i < 500; i++ {
		scope := scopes[rng.Intn(len(scopes))]
		switch rng.Intn(4) {
		case 0, 1:
			s.Ingest(&testMsg{ID: fmt.Sprintf("m-%d", rng.Intn(200)), Room: scope, Text: "t", At: base.Add(time.Duration(i) * time.Millisecond)})
		case 2:
			list := s.Snapshot(scope)
			if len(list) > 0 {
				_, _ = s.MarkRead(scope, list[rng.Intn(len(list))].ID)
			}
		case 3:
			s.MarkScopeRead(scope)
		}

		sum := 0
		for _, sc := range scopes {
			unread := 0
			for _, m := range s.Snapshot(sc) {
				if !m.Read {
					unread++
				}
			}
			assert.Equal(t, unread, s.Unread(sc))
			sum += s.Unread(sc)
		}
		require.Equal(t, sum, s.TotalUnread())
	}
}

func TestReplaceServerWins(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	_, _ = s.Submit(ctx, &testMsg{ID: "tmp-a", Room: "c-1", Sender: "me", Text: "queued", At: base},
		func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("offline") })
	_, _ = s.Submit(ctx, &testMsg{ID: "tmp-b", Room: "c-1", Sender: "me", Text: "seen", At: base},
		func(ctx context.Context, m *testMsg) (*testMsg, error) { return nil, errors.New("offline") })
	require.Equal(t, 2, s.Pending())

	s.Replace("c-1", []*testMsg{
		{ID: "srv-b", ClientID: "tmp-b", Room: "c-1", Sender: "me", Text: "seen", At: base.Add(time.Second), Read: true},
		{ID: "srv-0", Room: "c-1", Sender: "x", Text: "earlier", At: base},
	})

	assert.Equal(t, []string{"srv-0", "srv-b", "tmp-a"}, ids(s.Snapshot("c-1")))
	assert.Equal(t, 1, s.Pending())
	assert.True(t, s.Loaded("c-1"))
	assert.Equal(t, 1, s.Unread("c-1"))
}

func TestReplaceQueuesFailedRecords(t *testing.T) {
	s := newTestStore()
	s.Replace("c-1", []*testMsg{
		{ID: "tmp-1", ClientID: "tmp-1", Room: "c-1", Text: "offline", At: base, Read: true, State: StateFailed},
	})
	assert.Equal(t, 1, s.Pending())
}

func TestRemoveAndClear(t *testing.T) {
	s := newTestStore()
	s.Ingest(&testMsg{ID: "m-1", Room: "c-1", Text: "x", At: base})
	s.Ingest(&testMsg{ID: "m-2", Room: "c-2", Text: "x", At: base})

	assert.True(t, s.Remove("c-1", "m-1"))
	assert.False(t, s.Remove("c-1", "m-1"))
	assert.Equal(t, 1, s.TotalUnread())

	s.Clear()
	assert.Empty(t, s.Scopes())
	assert.Equal(t, 0, s.TotalUnread())
}

func TestSubscribe(t *testing.T) {
	s := newTestStore()
	var kinds []EventKind
	unsubscribe := s.Subscribe(func(ev Event[*testMsg]) { kinds = append(kinds, ev.Kind) })

	_, _ = s.Submit(context.Background(), &testMsg{Room: "c-1", Sender: "u", Text: "x", At: base}, echoServer("srv-1"))
	s.Ingest(&testMsg{ID: "srv-1", Room: "c-1", Sender: "u", Text: "x", At: base})
	unsubscribe()
	s.MarkScopeRead("c-1")

	assert.Equal(t, []EventKind{EventInserted, EventConfirmed, EventMerged}, kinds)
}

func TestNewTempID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := NewTempID()
		assert.True(t, IsTempID(id))
		assert.False(t, seen[id])
		seen[id] = true
	}
}
