package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"contest/internal/client/tradeapi"
	"contest/internal/config"
	"contest/internal/models"
)

// stubFetcher counts invocations per account and fails the configured ones.
type stubFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	failFor map[string]bool
	delay   time.Duration
	onFetch func(accountNumber string)
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: map[string]int{}, failFor: map[string]bool{}}
}

func (f *stubFetcher) FetchAccount(ctx context.Context, params tradeapi.FetchParams) (*tradeapi.Snapshot, error) {
	f.mu.Lock()
	f.calls[params.AccountNumber]++
	fail := f.failFor[params.AccountNumber]
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(params.AccountNumber)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return nil, &tradeapi.APIError{Class: tradeapi.ErrorAuth, Message: "invalid credentials"}
	}
	return &tradeapi.Snapshot{
		Balance: decimal.NewFromInt(10000),
		Equity:  decimal.NewFromInt(10100),
		Profit:  decimal.NewFromInt(100),
	}, nil
}

func (f *stubFetcher) callCount(accountNumber string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[accountNumber]
}

// stubTicks records scheduled one-shot jobs without firing them.
type stubTicks struct {
	mu   sync.Mutex
	jobs []time.Duration
}

func (t *stubTicks) After(d time.Duration, job func(context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs = append(t.jobs, d)
}

func (t *stubTicks) scheduled() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

type stubDisq struct {
	mu  sync.Mutex
	ids []int64
}

func (d *stubDisq) AccountUpdated(accountID int64) {
	// Nil-receiver safe, like the production scheduler: a nil *stubDisq
	// handed to the Disqualify field is still a non-nil interface value.
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, accountID)
}

func seedAccounts(store *stubStore, contestID int64, ids ...int64) {
	for _, id := range ids {
		store.accounts[id] = &models.Account{
			ID:            id,
			ContestID:     contestID,
			AccountNumber: "acc-" + strconv.FormatInt(id, 10),
			Password:      "pw",
			Server:        "Demo-Server",
			Terminal:      "mt4",
		}
	}
}

func newTestManager(store *stubStore, fetcher *stubFetcher, ticks *stubTicks, disq *stubDisq) *Manager {
	return &Manager{
		Store:      store,
		Fetcher:    fetcher,
		Ticks:      ticks,
		Disqualify: disq,
		Config: config.QueueConfig{
			BatchSize:     2,
			BatchInterval: 300 * time.Second,
			StallTimeout:  30 * time.Minute,
			CleanupAge:    24 * time.Hour,
			LeaseTTL:      5 * time.Minute,
		},
		APITimeout: 5 * time.Second,
	}
}

func TestCreateQueueEmptyIsNoop(t *testing.T) {
	store := newStubStore()
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)

	handle, err := m.CreateQueue(context.Background(), "5", nil, true, "auto-update")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if handle != nil {
		t.Fatalf("handle=%+v want nil", handle)
	}
	if len(store.statuses) != 0 || len(store.active) != 0 {
		t.Fatalf("empty create must not persist anything")
	}
}

func TestCreateQueueInitializesPending(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102, 103)
	ticks := &stubTicks{}
	m := newTestManager(store, newStubFetcher(), ticks, nil)

	handle, err := m.CreateQueue(context.Background(), "5", []int64{101, 102, 103}, true, "auto-update")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if handle == nil || handle.Total != 3 {
		t.Fatalf("handle=%+v want total 3", handle)
	}
	if len(handle.QueueID) != 5 || handle.QueueID[0] != 'q' {
		t.Fatalf("queue id %q, want q plus four letters", handle.QueueID)
	}

	status, err := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if err != nil || status == nil {
		t.Fatalf("status=%v err=%v", status, err)
	}
	if !status.IsRunning || status.State != models.QueueRunning {
		t.Fatalf("state=%s running=%v", status.State, status.IsRunning)
	}
	if status.Total != 3 || status.Completed != 0 {
		t.Fatalf("total=%d completed=%d", status.Total, status.Completed)
	}
	states, _ := status.Accounts()
	if len(states) != 3 {
		t.Fatalf("states=%d want 3", len(states))
	}
	for _, st := range states {
		if st.Status != models.AccountPending {
			t.Fatalf("account %d status=%s want pending", st.AccountID, st.Status)
		}
	}
	if len(store.active) != 1 {
		t.Fatalf("active index entries=%d want 1", len(store.active))
	}
	if ticks.scheduled() != 1 {
		t.Fatalf("scheduled ticks=%d want 1", ticks.scheduled())
	}
}

func TestProcessBatchFirstTick(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102, 103)
	ticks := &stubTicks{}
	fetcher := newStubFetcher()
	fetcher.failFor["acc-102"] = true
	disq := &stubDisq{}
	m := newTestManager(store, fetcher, ticks, disq)

	handle, err := m.CreateQueue(context.Background(), "5", []int64{101, 102, 103}, true, "auto-update")
	if err != nil {
		t.Fatalf("create err=%v", err)
	}

	result, err := m.ProcessBatch(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("process err=%v", err)
	}
	if result.Skipped {
		t.Fatalf("batch was skipped")
	}
	if result.Processed != 2 || result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("result=%+v", result)
	}
	if result.Remaining != 1 || result.Finished {
		t.Fatalf("remaining=%d finished=%v", result.Remaining, result.Finished)
	}

	status, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if status.Completed != 2 || status.Succeeded != 1 || status.Failed != 1 {
		t.Fatalf("counters=%d/%d/%d", status.Completed, status.Succeeded, status.Failed)
	}
	if status.Completed != status.Succeeded+status.Failed {
		t.Fatalf("completed %d != success %d + failed %d", status.Completed, status.Succeeded, status.Failed)
	}
	if !status.IsRunning {
		t.Fatalf("queue should still be running")
	}
	states, _ := status.Accounts()
	want := map[int64]string{101: models.AccountSuccess, 102: models.AccountFailed, 103: models.AccountPending}
	for _, st := range states {
		if st.Status != want[st.AccountID] {
			t.Fatalf("account %d status=%s want %s", st.AccountID, st.Status, want[st.AccountID])
		}
	}

	if store.accounts[102].ConnectionStatus != models.ConnectionDisconnected {
		t.Fatalf("failed account not marked disconnected")
	}
	if store.accounts[101].ConnectionStatus != models.ConnectionConnected {
		t.Fatalf("successful account not marked connected")
	}
	if len(disq.ids) != 1 || disq.ids[0] != 101 {
		t.Fatalf("disqualify notifications=%v want [101]", disq.ids)
	}
	// Create tick plus the follow-up tick for the remaining account.
	if ticks.scheduled() != 2 {
		t.Fatalf("scheduled ticks=%d want 2", ticks.scheduled())
	}
}

func TestProcessBatchSecondTickFinishes(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102, 103)
	fetcher := newStubFetcher()
	fetcher.failFor["acc-102"] = true
	m := newTestManager(store, fetcher, &stubTicks{}, nil)

	handle, _ := m.CreateQueue(context.Background(), "5", []int64{101, 102, 103}, true, "auto-update")
	if _, err := m.ProcessBatch(context.Background(), "5", handle.QueueID); err != nil {
		t.Fatalf("tick 1 err=%v", err)
	}
	result, err := m.ProcessBatch(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("tick 2 err=%v", err)
	}
	if !result.Finished || result.Remaining != 0 {
		t.Fatalf("result=%+v", result)
	}

	status, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if status.IsRunning || status.State != models.QueueCompleted {
		t.Fatalf("state=%s running=%v", status.State, status.IsRunning)
	}
	if status.Completed != 3 || status.Succeeded != 2 || status.Failed != 1 {
		t.Fatalf("counters=%d/%d/%d", status.Completed, status.Succeeded, status.Failed)
	}
	if status.EndedAt == nil {
		t.Fatalf("ended_at not set")
	}
	if len(store.history) != 1 || store.history[0].State != models.QueueCompleted {
		t.Fatalf("history=%+v", store.history)
	}

	// The index entry survives until the cleanup sweep.
	if len(store.active) != 1 {
		t.Fatalf("active entries=%d want 1 before cleanup", len(store.active))
	}
	m.Config.CleanupAge = time.Nanosecond
	time.Sleep(time.Millisecond)
	if err := m.CleanupFinished(context.Background()); err != nil {
		t.Fatalf("cleanup err=%v", err)
	}
	if len(store.active) != 0 || len(store.statuses) != 0 {
		t.Fatalf("cleanup left active=%d statuses=%d", len(store.active), len(store.statuses))
	}
}

func TestProcessBatchMissingQueueIsNoop(t *testing.T) {
	store := newStubStore()
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)

	result, err := m.ProcessBatch(context.Background(), "5", "qnone")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skip for missing queue")
	}
}

func TestProcessBatchNoPendingFlipsRunningOnce(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101)
	fetcher := newStubFetcher()
	m := newTestManager(store, fetcher, &stubTicks{}, nil)

	handle, _ := m.CreateQueue(context.Background(), "5", []int64{101}, false, "admin")
	if _, err := m.ProcessBatch(context.Background(), "5", handle.QueueID); err != nil {
		t.Fatalf("tick err=%v", err)
	}
	status, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if status.IsRunning {
		t.Fatalf("queue should have finished")
	}
	before := *status

	result, err := m.ProcessBatch(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("repeat tick err=%v", err)
	}
	if !result.Skipped {
		t.Fatalf("repeat tick must be a no-op")
	}
	after, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if after.Completed != before.Completed || after.Succeeded != before.Succeeded ||
		after.Failed != before.Failed || after.State != before.State {
		t.Fatalf("repeat tick mutated snapshot: before=%+v after=%+v", before, *after)
	}
	if fetcher.callCount("acc-101") != 1 {
		t.Fatalf("account fetched %d times, want 1", fetcher.callCount("acc-101"))
	}
}

func TestProcessBatchMutualExclusion(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102, 103, 104)
	fetcher := newStubFetcher()
	fetcher.delay = 20 * time.Millisecond
	m := newTestManager(store, fetcher, &stubTicks{}, nil)
	m.Config.BatchSize = 4

	handle, _ := m.CreateQueue(context.Background(), "5", []int64{101, 102, 103, 104}, true, "auto-update")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ProcessBatch(context.Background(), "5", handle.QueueID)
		}()
	}
	wg.Wait()

	for _, acc := range []string{"acc-101", "acc-102", "acc-103", "acc-104"} {
		if n := fetcher.callCount(acc); n > 1 {
			t.Fatalf("account %s fetched %d times, want at most 1", acc, n)
		}
	}
	status, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if status.Completed != status.Succeeded+status.Failed {
		t.Fatalf("counter invariant broken: %d != %d + %d",
			status.Completed, status.Succeeded, status.Failed)
	}
	if status.Completed > status.Total {
		t.Fatalf("completed %d > total %d", status.Completed, status.Total)
	}
}

func TestProcessBatchStopsWhenLeaseLost(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102)
	fetcher := newStubFetcher()
	ticks := &stubTicks{}
	m := newTestManager(store, fetcher, ticks, nil)

	handle, err := m.CreateQueue(context.Background(), "5", []int64{101, 102}, true, "auto-update")
	if err != nil {
		t.Fatalf("create err=%v", err)
	}

	// Another process takes over the queue while the first account is in
	// flight. The tick must notice on the next renewal and stop.
	fetcher.onFetch = func(string) {
		store.mu.Lock()
		store.statuses[statusKey("5", handle.QueueID)].LeaseToken = "elsewhere"
		store.mu.Unlock()
	}

	result, err := m.ProcessBatch(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("tick err=%v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("processed=%d want 1", result.Processed)
	}
	if n := fetcher.callCount("acc-102"); n != 0 {
		t.Fatalf("account acc-102 fetched %d times after lease loss, want 0", n)
	}
	if got := ticks.scheduled(); got != 0 {
		t.Fatalf("abandoned tick scheduled %d follow-ups, want 0", got)
	}

	status, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if !status.IsRunning || status.Completed != 1 {
		t.Fatalf("running=%v completed=%d, want running with 1 completed", status.IsRunning, status.Completed)
	}
}

func TestProcessBatchInterruptedClaimNotCompleted(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102)
	fetcher := newStubFetcher()
	m := newTestManager(store, fetcher, &stubTicks{}, nil)

	handle, err := m.CreateQueue(context.Background(), "5", []int64{101, 102}, true, "auto-update")
	if err != nil {
		t.Fatalf("create err=%v", err)
	}

	// A previous tick died after claiming the first account: it sits in
	// processing forever and was never counted.
	store.mu.Lock()
	status := store.statuses[statusKey("5", handle.QueueID)]
	states, _ := status.Accounts()
	states[0].Status = models.AccountProcessing
	if err := status.SetAccounts(states); err != nil {
		store.mu.Unlock()
		t.Fatalf("seed err=%v", err)
	}
	store.mu.Unlock()

	// The next tick refreshes the remaining pending account but must not
	// declare the queue completed with an account unaccounted for.
	result, err := m.ProcessBatch(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("tick err=%v", err)
	}
	if result.Processed != 1 || result.Finished {
		t.Fatalf("processed=%d finished=%v, want 1 and not finished", result.Processed, result.Finished)
	}
	got, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if !got.IsRunning || got.State != models.QueueRunning {
		t.Fatalf("state=%s running=%v, want still running", got.State, got.IsRunning)
	}
	if got.Completed != 1 || got.Total != 2 {
		t.Fatalf("completed=%d total=%d", got.Completed, got.Total)
	}

	// A repeat tick finds nothing claimable and must not finish either.
	repeat, err := m.ProcessBatch(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("repeat tick err=%v", err)
	}
	if !repeat.Skipped || repeat.Finished {
		t.Fatalf("repeat skipped=%v finished=%v", repeat.Skipped, repeat.Finished)
	}

	// Stall detection is what eventually resolves the stuck queue.
	store.mu.Lock()
	store.statuses[statusKey("5", handle.QueueID)].LastUpdateAt = time.Now().UTC().Add(-31 * time.Minute)
	store.mu.Unlock()

	fired, err := m.CheckTimeout(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("timeout err=%v", err)
	}
	if !fired {
		t.Fatalf("stuck queue not timed out")
	}
	final, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if final.State != models.QueueTimeout {
		t.Fatalf("state=%s want timeout", final.State)
	}
}

func TestCheckTimeoutStalledQueue(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102)
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)

	handle, _ := m.CreateQueue(context.Background(), "5", []int64{101, 102}, true, "auto-update")

	// Rewind progress 31 minutes into the past.
	store.mu.Lock()
	status := store.statuses[statusKey("5", handle.QueueID)]
	status.LastUpdateAt = time.Now().UTC().Add(-31 * time.Minute)
	store.mu.Unlock()

	fired, err := m.CheckTimeout(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !fired {
		t.Fatalf("stalled queue not timed out")
	}

	got, _ := store.GetQueueStatus(context.Background(), "5", handle.QueueID)
	if got.IsRunning || !got.TimedOut || got.State != models.QueueTimeout {
		t.Fatalf("state=%s running=%v timed_out=%v", got.State, got.IsRunning, got.TimedOut)
	}
	if got.TimeoutReason == "" {
		t.Fatalf("timeout reason empty")
	}
	if got.Completed != 0 || got.Succeeded != 0 || got.Failed != 0 {
		t.Fatalf("timeout mutated counters: %d/%d/%d", got.Completed, got.Succeeded, got.Failed)
	}
	states, _ := got.Accounts()
	for _, st := range states {
		if st.Status != models.AccountPending {
			t.Fatalf("timeout mutated sub-state of %d: %s", st.AccountID, st.Status)
		}
	}

	// Idempotent on the second call.
	fired, err = m.CheckTimeout(context.Background(), "5", handle.QueueID)
	if err != nil || fired {
		t.Fatalf("second check fired=%v err=%v", fired, err)
	}
	if len(store.history) != 1 {
		t.Fatalf("history rows=%d want 1", len(store.history))
	}
}

func TestGetStatusLazyTimeout(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101)
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)

	handle, _ := m.CreateQueue(context.Background(), "5", []int64{101}, true, "auto-update")
	store.mu.Lock()
	store.statuses[statusKey("5", handle.QueueID)].LastUpdateAt = time.Now().UTC().Add(-45 * time.Minute)
	store.mu.Unlock()

	view, err := m.GetStatus(context.Background(), "5", handle.QueueID)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if view == nil {
		t.Fatalf("view is nil")
	}
	if view.IsRunning || !view.TimedOut {
		t.Fatalf("running=%v timed_out=%v want lazy timeout", view.IsRunning, view.TimedOut)
	}
}

func TestGetStatusMissingQueue(t *testing.T) {
	store := newStubStore()
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)
	view, err := m.GetStatus(context.Background(), "5", "qnone")
	if err != nil || view != nil {
		t.Fatalf("view=%v err=%v want nil,nil", view, err)
	}
}

func TestClearAllQueues(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101, 102)
	seedAccounts(store, 7, 201)
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)

	h1, _ := m.CreateQueue(context.Background(), "5", []int64{101, 102}, true, "auto-update")
	h2, _ := m.CreateQueue(context.Background(), "7", []int64{201}, false, "admin")

	// One dangling index entry and one snapshot the index lost.
	_ = store.RegisterActiveQueue(context.Background(), &models.ActiveQueue{
		ContestKey: "9", QueueID: "qlost", StatusKey: "9:qlost", StartedAt: time.Now().UTC(),
	})
	orphan := &models.QueueStatus{
		ContestKey: "11", QueueID: "qorph", State: models.QueueRunning,
		IsRunning: true, Total: 1,
		StartedAt: time.Now().UTC(), LastUpdateAt: time.Now().UTC(),
	}
	_ = orphan.SetAccounts([]models.AccountState{{AccountID: 301, Status: models.AccountPending}})
	_ = store.SaveQueueStatus(context.Background(), orphan)

	result, err := m.ClearAllQueues(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.ClearedQueues != 3 {
		t.Fatalf("cleared_queues=%d want 3", result.ClearedQueues)
	}
	if result.ClearedLists != 3 {
		t.Fatalf("cleared_lists=%d want 3", result.ClearedLists)
	}
	if result.Orphans != 2 {
		t.Fatalf("orphans=%d want 2", result.Orphans)
	}

	for _, h := range []*Handle{h1, h2} {
		if status, _ := store.GetQueueStatus(context.Background(), h.ContestKey, h.QueueID); status != nil {
			t.Fatalf("queue %s survived clear", h.QueueID)
		}
	}
	overview, err := m.GetAllActiveQueues(context.Background())
	if err != nil {
		t.Fatalf("overview err=%v", err)
	}
	if overview.TotalRunning != 0 || overview.TotalQueues != 0 {
		t.Fatalf("overview=%+v want empty", overview)
	}
}

func TestGetAllActiveQueuesPrunesOrphans(t *testing.T) {
	store := newStubStore()
	seedAccounts(store, 5, 101)
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)

	handle, _ := m.CreateQueue(context.Background(), "5", []int64{101}, true, "auto-update")
	_ = store.RegisterActiveQueue(context.Background(), &models.ActiveQueue{
		ContestKey: "5", QueueID: "qgone", StatusKey: "5:qgone", StartedAt: time.Now().UTC(),
	})

	overview, err := m.GetAllActiveQueues(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if overview.TotalQueues != 1 || overview.PrunedOrphans != 1 {
		t.Fatalf("overview=%+v", overview)
	}
	if len(overview.Contests["5"]) != 1 || overview.Contests["5"][0].QueueID != handle.QueueID {
		t.Fatalf("contest listing=%+v", overview.Contests)
	}
	if len(store.active) != 1 {
		t.Fatalf("orphan index entry not pruned")
	}
}

func TestDefaultThrottle(t *testing.T) {
	size, interval := DefaultThrottle(1, 4, 300*time.Second)
	if size != 4 || interval != 300*time.Second {
		t.Fatalf("lone queue throttled: size=%d interval=%s", size, interval)
	}
	size, interval = DefaultThrottle(3, 4, 300*time.Second)
	if size != 2 || interval != 600*time.Second {
		t.Fatalf("contended throttle: size=%d interval=%s", size, interval)
	}
	size, _ = DefaultThrottle(5, 1, time.Second)
	if size != 1 {
		t.Fatalf("batch size floor broken: %d", size)
	}
}

func TestFreshQueueIDRetriesOnCollision(t *testing.T) {
	store := newStubStore()
	m := newTestManager(store, newStubFetcher(), &stubTicks{}, nil)

	id, err := m.freshQueueID(context.Background(), "5")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	taken := &models.QueueStatus{
		ContestKey: "5", QueueID: id, State: models.QueueRunning, IsRunning: true,
		StartedAt: time.Now().UTC(), LastUpdateAt: time.Now().UTC(),
	}
	_ = taken.SetAccounts(nil)
	if err := store.SaveQueueStatus(context.Background(), taken); err != nil {
		t.Fatalf("seed err=%v", err)
	}

	next, err := m.freshQueueID(context.Background(), "5")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if next == id {
		t.Fatalf("collision not retried")
	}
}

func TestFetchErrorClassSurvivesWrapping(t *testing.T) {
	err := &tradeapi.APIError{Class: tradeapi.ErrorTimeout, Message: "deadline"}
	if tradeapi.Classify(err) != tradeapi.ErrorTimeout {
		t.Fatalf("classify lost the error class")
	}
	if tradeapi.Classify(errors.New("plain")) != tradeapi.ErrorProtocol {
		t.Fatalf("foreign errors must classify as protocol")
	}
}
