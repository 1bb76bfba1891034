package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/commands"
	"github.com/aristath/stockbot/internal/config"
	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponder struct {
	mu        sync.Mutex
	calls     []string
	ackErr    error
	followUps chan string
}

func newResponder() *fakeResponder {
	return &fakeResponder{followUps: make(chan string, 4)}
}

func (r *fakeResponder) Acknowledge(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "ack")
	return r.ackErr
}

func (r *fakeResponder) FollowUp(_ context.Context, content string) error {
	r.mu.Lock()
	r.calls = append(r.calls, "followup")
	r.mu.Unlock()
	r.followUps <- content
	return nil
}

func (r *fakeResponder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeResponder) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-r.followUps:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no follow-up sent")
		return ""
	}
}

type readiness struct{ err error }

func (r readiness) CheckReady() error { return r.err }

type fakeJobs struct {
	mu    sync.Mutex
	reqs  []jobs.Request
	chans []chan jobs.Result
}

func (f *fakeJobs) Submit(_ context.Context, req jobs.Request, _ string) (string, <-chan jobs.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan jobs.Result, 1)
	f.reqs = append(f.reqs, req)
	f.chans = append(f.chans, ch)
	return fmt.Sprintf("job-%d", len(f.reqs)), ch
}

func (f *fakeJobs) finish(i int, res jobs.Result) {
	f.mu.Lock()
	ch := f.chans[i]
	res.Request = f.reqs[i]
	f.mu.Unlock()
	ch <- res
	close(ch)
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type memRecorder struct {
	mu   sync.Mutex
	recs map[string]Record
}

func (m *memRecorder) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]Record)
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memRecorder) get(id string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[id]
}

// blockingRecorder holds every Save until release is closed.
type blockingRecorder struct {
	memRecorder
	release chan struct{}
}

func (b *blockingRecorder) Save(ctx context.Context, rec Record) error {
	<-b.release
	return b.memRecorder.Save(ctx, rec)
}

func failedResult(err error) jobs.Result {
	kind, msg := classify.Classify(err)
	return jobs.Result{Err: err, ErrorKind: kind, Message: msg}
}

type harness struct {
	ctrl     *Controller
	jobs     *fakeJobs
	recorder *memRecorder
	bus      *events.Bus
}

func newHarness(t *testing.T, ready error, opts Options) *harness {
	t.Helper()
	registry, err := commands.NewDefaultRegistry(config.DefaultSymbolPattern)
	require.NoError(t, err)

	bus := events.NewBus(zerolog.Nop())
	fj := &fakeJobs{}
	rec := &memRecorder{}
	ctrl := NewController(registry, readiness{err: ready}, fj, rec, events.NewManager(bus, zerolog.Nop()), opts, zerolog.Nop())
	return &harness{ctrl: ctrl, jobs: fj, recorder: rec, bus: bus}
}

func TestDispatch_StockAnalyzeSuccess(t *testing.T) {
	h := newHarness(t, nil, Options{SoftDeadline: time.Minute})
	r := newResponder()
	in := New("p1", "alice#0001", commands.StockAnalyze, map[string]any{"stock_code": "600519", "full_report": false})

	h.ctrl.Dispatch(context.Background(), in, r)

	require.Equal(t, 1, h.jobs.count())
	assert.Equal(t, jobs.Request{Kind: jobs.SingleSymbolAnalysis, Symbol: "600519"}, h.jobs.reqs[0])
	assert.Equal(t, Acknowledged, in.Phase())
	assert.Len(t, h.ctrl.Pending(), 1)

	h.jobs.finish(0, jobs.Result{})

	assert.Equal(t, "✅ 股票分析完成！600519 的分析报告已生成。", r.next(t))
	require.NoError(t, h.ctrl.Drain(context.Background()))
	assert.Equal(t, []string{"ack", "followup"}, r.Calls())
	assert.Equal(t, Completed, in.Phase())
	assert.Empty(t, h.ctrl.Pending())

	rec := h.recorder.get(in.ID)
	assert.Equal(t, Completed, rec.Phase)
	assert.Equal(t, "job-1", rec.JobID)
	assert.NotNil(t, rec.AcknowledgedAt)
	assert.NotNil(t, rec.CompletedAt)
}

func TestDispatch_NotReady(t *testing.T) {
	h := newHarness(t, &classify.NotReadyError{State: "syncing_commands"}, Options{})
	r := newResponder()
	in := New("p1", "bob", commands.StockAnalyze, map[string]any{"stock_code": "600519"})

	h.ctrl.Dispatch(context.Background(), in, r)

	assert.Equal(t, "⏳ 机器人正在启动，请稍后再试。", r.next(t))
	assert.Equal(t, 0, h.jobs.count())
	assert.Equal(t, Failed, in.Phase())
	require.NoError(t, h.ctrl.Drain(context.Background()))
	assert.Equal(t, classify.KindNotReady, h.recorder.get(in.ID).ErrorKind)
}

func TestDispatch_InvalidSymbolNeverSubmits(t *testing.T) {
	h := newHarness(t, nil, Options{})
	r := newResponder()

	h.ctrl.Dispatch(context.Background(), New("p1", "bob", commands.StockAnalyze, map[string]any{"stock_code": "60051"}), r)

	assert.Equal(t, `❌ 股票代码错误：股票代码格式不正确："60051"`, r.next(t))
	assert.Equal(t, 0, h.jobs.count())
	assert.Equal(t, []string{"ack", "followup"}, r.Calls())
}

func TestDispatch_StaticCommands(t *testing.T) {
	h := newHarness(t, nil, Options{})
	reg, err := commands.NewDefaultRegistry(config.DefaultSymbolPattern)
	require.NoError(t, err)

	for _, name := range []string{commands.Help, commands.About} {
		r := newResponder()
		in := New("p", "carol", name, nil)
		h.ctrl.Dispatch(context.Background(), in, r)

		d, ok := reg.Get(name)
		require.True(t, ok)
		assert.Equal(t, d.Reply, r.next(t))
		assert.Equal(t, Completed, in.Phase())
	}
	assert.Equal(t, 0, h.jobs.count())
}

func TestDispatch_MarketReviewFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"reported false", &classify.CollaboratorError{Op: "大盘复盘"}, "❌ 大盘复盘失败！"},
		{"raised", &classify.CollaboratorError{Op: "大盘复盘", Err: errors.New("no quotes")}, "❌ 大盘复盘过程中发生错误：no quotes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, Options{})
			r := newResponder()
			in := New("p", "dan", commands.MarketReview, nil)

			h.ctrl.Dispatch(context.Background(), in, r)
			h.jobs.finish(0, failedResult(tt.err))

			assert.Equal(t, tt.want, r.next(t))
			require.NoError(t, h.ctrl.Drain(context.Background()))
			assert.Equal(t, Failed, in.Phase())
		})
	}
}

func TestDispatch_MarketReviewSuccess(t *testing.T) {
	h := newHarness(t, nil, Options{})
	r := newResponder()

	h.ctrl.Dispatch(context.Background(), New("p", "dan", commands.MarketReview, nil), r)
	assert.Equal(t, jobs.Request{Kind: jobs.MarketReview}, h.jobs.reqs[0])
	h.jobs.finish(0, jobs.Result{})

	assert.Equal(t, "✅ 大盘复盘完成！报告已生成。", r.next(t))
}

func TestDispatch_TimeoutThenLateResult(t *testing.T) {
	h := newHarness(t, nil, Options{SoftDeadline: time.Hour, Timeout: 20 * time.Millisecond})
	r := newResponder()
	in := New("p", "erin", commands.StockAnalyze, map[string]any{"stock_code": "300750"})

	h.ctrl.Dispatch(context.Background(), in, r)

	assert.Equal(t, "⏳ 股票分析仍在运行中，请稍后再试。", r.next(t))
	assert.Equal(t, Failed, in.Phase())

	h.jobs.finish(0, jobs.Result{})
	require.NoError(t, h.ctrl.Drain(context.Background()))

	assert.Equal(t, []string{"ack", "followup"}, r.Calls(), "late result must not send a second follow-up")
	rec := h.recorder.get(in.ID)
	assert.Equal(t, classify.KindTimeout, rec.ErrorKind)
	assert.Equal(t, "✅ 股票分析完成！300750 的分析报告已生成。", rec.LateResult)
}

func TestDispatch_SoftDeadlineKeepsHandleOpen(t *testing.T) {
	h := newHarness(t, nil, Options{SoftDeadline: 10 * time.Millisecond})
	slow := make(chan *events.Event, 1)
	h.bus.Subscribe(events.JobSlow, func(e *events.Event) { slow <- e })

	r := newResponder()
	in := New("p", "erin", commands.StockAnalyze, map[string]any{"stock_code": "600519"})
	h.ctrl.Dispatch(context.Background(), in, r)

	select {
	case e := <-slow:
		assert.Equal(t, "job-1", e.Data["job_id"])
		assert.Equal(t, in.ID, e.Data["interaction_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("JobSlow not emitted")
	}
	assert.Equal(t, Acknowledged, in.Phase())

	h.jobs.finish(0, jobs.Result{})
	assert.Equal(t, "✅ 股票分析完成！600519 的分析报告已生成。", r.next(t))
}

func TestDispatch_CompletionsMayArriveOutOfOrder(t *testing.T) {
	h := newHarness(t, nil, Options{})
	first, second := newResponder(), newResponder()

	h.ctrl.Dispatch(context.Background(), New("p1", "a", commands.StockAnalyze, map[string]any{"stock_code": "600519"}), first)
	h.ctrl.Dispatch(context.Background(), New("p2", "b", commands.StockAnalyze, map[string]any{"stock_code": "000001"}), second)

	h.jobs.finish(1, jobs.Result{})
	assert.Equal(t, "✅ 股票分析完成！000001 的分析报告已生成。", second.next(t))
	assert.Equal(t, []string{"ack"}, first.Calls())

	h.jobs.finish(0, failedResult(&classify.CollaboratorError{Op: "分析", Err: errors.New("boom")}))
	assert.Equal(t, "❌ 分析过程中发生错误：boom", first.next(t))
}

func TestDispatch_AcknowledgeFailure(t *testing.T) {
	h := newHarness(t, nil, Options{})
	r := newResponder()
	r.ackErr = errors.New("unknown interaction")
	in := New("p", "f", commands.Help, nil)

	h.ctrl.Dispatch(context.Background(), in, r)

	assert.Equal(t, []string{"ack"}, r.Calls())
	assert.Equal(t, Failed, in.Phase())
	assert.Empty(t, h.ctrl.Pending())
}

func TestHandle_SingleUse(t *testing.T) {
	h := newHarness(t, nil, Options{})
	r := newResponder()
	handle, err := h.ctrl.Begin(context.Background(), New("p", "g", commands.Help, nil), r)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Reply(handle, "first"))
	assert.ErrorIs(t, h.ctrl.Reply(handle, "second"), ErrHandleConsumed)
	assert.ErrorIs(t, h.ctrl.Complete(handle, jobs.Result{}), ErrHandleConsumed)
	assert.ErrorIs(t, h.ctrl.Fail(handle, errors.New("x")), ErrHandleConsumed)

	assert.Equal(t, "first", r.next(t))
	assert.Equal(t, []string{"ack", "followup"}, r.Calls())
	assert.True(t, handle.Consumed())
}

func TestDrain_TimesOutPendingHandles(t *testing.T) {
	h := newHarness(t, nil, Options{})
	r := newResponder()
	in := New("p", "h", commands.MarketReview, nil)
	h.ctrl.Dispatch(context.Background(), in, r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.ctrl.Drain(ctx), context.DeadlineExceeded)

	assert.Equal(t, "⏳ 任务仍在运行中，请稍后再试。", r.next(t))
	assert.Equal(t, Failed, in.Phase())
	assert.Empty(t, h.ctrl.Pending())

	h.jobs.finish(0, jobs.Result{})
}

func TestDispatch_EmitsLifecycleEvents(t *testing.T) {
	h := newHarness(t, nil, Options{})
	var mu sync.Mutex
	var seen []events.EventType
	for _, et := range []events.EventType{events.InteractionReceived, events.InteractionAcknowledged, events.InteractionCompleted, events.InteractionFailed} {
		h.bus.Subscribe(et, func(e *events.Event) {
			mu.Lock()
			seen = append(seen, e.Type)
			mu.Unlock()
		})
	}

	r := newResponder()
	h.ctrl.Dispatch(context.Background(), New("p", "i", commands.About, nil), r)
	r.next(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{events.InteractionReceived, events.InteractionAcknowledged, events.InteractionCompleted}, seen)
}

func TestDispatch_SlowHistoryStoreDoesNotDelayAcknowledge(t *testing.T) {
	registry, err := commands.NewDefaultRegistry(config.DefaultSymbolPattern)
	require.NoError(t, err)
	rec := &blockingRecorder{release: make(chan struct{})}
	fj := &fakeJobs{}
	ctrl := NewController(registry, readiness{}, fj, rec, events.NewManager(events.NewBus(zerolog.Nop()), zerolog.Nop()), Options{}, zerolog.Nop())

	r := newResponder()
	in := New("p1", "alice", commands.StockAnalyze, map[string]any{"stock_code": "600519"})

	returned := make(chan struct{})
	go func() {
		ctrl.Dispatch(context.Background(), in, r)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Dispatch waited on the history store")
	}
	assert.Equal(t, []string{"ack"}, r.Calls())
	assert.Equal(t, Acknowledged, in.Phase())
	require.Equal(t, 1, fj.count())

	fj.finish(0, jobs.Result{})
	assert.Equal(t, "✅ 股票分析完成！600519 的分析报告已生成。", r.next(t))

	close(rec.release)
	require.NoError(t, ctrl.Drain(context.Background()))
	saved := rec.get(in.ID)
	assert.Equal(t, Completed, saved.Phase)
	assert.Equal(t, "job-1", saved.JobID)
}

func TestDispatch_RejectsJobsOnceDraining(t *testing.T) {
	h := newHarness(t, nil, Options{})
	require.NoError(t, h.ctrl.Drain(context.Background()))

	r := newResponder()
	in := New("p", "j", commands.StockAnalyze, map[string]any{"stock_code": "600519"})
	h.ctrl.Dispatch(context.Background(), in, r)

	assert.Equal(t, "⏳ 机器人正在启动，请稍后再试。", r.next(t))
	assert.Equal(t, 0, h.jobs.count())
	assert.Equal(t, Failed, in.Phase())
	assert.Empty(t, h.ctrl.Pending())
	require.NoError(t, h.ctrl.Drain(context.Background()))
}
