package jobs

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/stockbot/internal/analysis"
	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/config"
	"github.com/aristath/stockbot/internal/events"
	"github.com/aristath/stockbot/internal/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	args    []analysis.Args
	symbols [][]string
	snaps   []*config.Snapshot
	err     error
	panics  bool
	block   chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeAnalyzer) RunSingleSymbolAnalysis(ctx context.Context, snap *config.Snapshot, args analysis.Args, symbols []string) (*analysis.Report, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.args = append(f.args, args)
	f.symbols = append(f.symbols, symbols)
	f.snaps = append(f.snaps, snap)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.panics {
		panic("analyzer exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Report{Kind: "single_symbol", Symbols: symbols, Output: "ok"}, nil
}

type fakeReviewer struct {
	ok        bool
	err       error
	notifiers []notify.Notifier
	analyzer  analysis.Analyzer
	search    analysis.SearchService
}

func (f *fakeReviewer) RunMarketReview(ctx context.Context, snap *config.Snapshot, n notify.Notifier, a analysis.Analyzer, s analysis.SearchService) (*analysis.Report, bool, error) {
	f.notifiers = append(f.notifiers, n)
	f.analyzer, f.search = a, s
	if f.err != nil {
		return nil, false, f.err
	}
	if !f.ok {
		return nil, false, nil
	}
	return &analysis.Report{Kind: "market_review", Output: "review"}, true, nil
}

type snapshotSource struct {
	cfg *config.Config
	err error
}

func (s *snapshotSource) Snapshot() (*config.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg.Snapshot()
}

func newTestExecutor(t *testing.T, a *fakeAnalyzer, r *fakeReviewer, maxConcurrent int) (*Executor, *events.Bus) {
	t.Helper()
	registry := NewRegistry()
	RegisterDefaults(registry, Collaborators{
		Analyzer:    a,
		Reviewer:    r,
		NewNotifier: func() notify.Notifier { return notify.NewService(zerolog.Nop()) },
	})
	bus := events.NewBus(zerolog.Nop())
	em := events.NewManager(bus, zerolog.Nop())
	src := &snapshotSource{cfg: &config.Config{Analysis: config.Analysis{StockList: []string{"600519"}}}}
	return NewExecutor(registry, src, em, maxConcurrent, zerolog.Nop()), bus
}

func receive(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job result")
		return Result{}
	}
}

func TestRequest_Validate(t *testing.T) {
	symbols := regexp.MustCompile(config.DefaultSymbolPattern)

	assert.NoError(t, Request{Kind: SingleSymbolAnalysis, Symbol: "600519"}.Validate(symbols))
	assert.NoError(t, Request{Kind: SingleSymbolAnalysis, Symbol: "60051"}.Validate(nil))
	assert.NoError(t, Request{Kind: MarketReview}.Validate(symbols))

	var verr *classify.ValidationError
	require.ErrorAs(t, Request{Kind: SingleSymbolAnalysis, Symbol: " "}.Validate(symbols), &verr)
	assert.Equal(t, classify.CodeMissingParameter, verr.Code)

	require.ErrorAs(t, Request{Kind: SingleSymbolAnalysis, Symbol: "60051"}.Validate(symbols), &verr)
	assert.Equal(t, classify.CodeInvalidSymbol, verr.Code)

	assert.Error(t, Request{Kind: "bogus"}.Validate(symbols))
}

func TestSubmit_RejectsMalformedSymbol(t *testing.T) {
	a := &fakeAnalyzer{}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 0)
	require.NoError(t, e.SetSymbolPattern(config.DefaultSymbolPattern))

	res := receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "60051"}))
	assert.Equal(t, classify.KindValidation, res.ErrorKind)
	assert.Equal(t, `❌ 股票代码错误：股票代码格式不正确："60051"`, res.Message)
	assert.Empty(t, a.args)

	assert.Error(t, e.SetSymbolPattern("("))
}

func TestKind_Labels(t *testing.T) {
	assert.Equal(t, "股票分析", SingleSymbolAnalysis.Label())
	assert.Equal(t, "大盘复盘", MarketReview.Label())
	assert.Equal(t, "分析", SingleSymbolAnalysis.opLabel())
	assert.Equal(t, "大盘复盘", MarketReview.opLabel())
}

func TestSubmit_SingleSymbolSuccess(t *testing.T) {
	a := &fakeAnalyzer{}
	e, bus := newTestExecutor(t, a, &fakeReviewer{}, 0)

	var kinds []events.EventType
	var mu sync.Mutex
	for _, et := range []events.EventType{events.JobStarted, events.JobCompleted, events.JobFailed} {
		bus.Subscribe(et, func(ev *events.Event) {
			mu.Lock()
			kinds = append(kinds, ev.Type)
			mu.Unlock()
		})
	}

	jobID, ch := e.Submit(context.Background(), Request{Kind: SingleSymbolAnalysis, Symbol: "600519"}, "i-1")
	res := receive(t, ch)

	require.True(t, res.Succeeded())
	assert.Equal(t, jobID, res.JobID)
	assert.Equal(t, "ok", res.Report.Output)
	assert.Equal(t, []string{"600519"}, a.symbols[0])
	assert.Equal(t, analysis.SingleSymbolArgs(false), a.args[0])

	_, open := <-ch
	assert.False(t, open, "result channel carries exactly one value")

	require.NoError(t, e.Wait(context.Background()))
	mu.Lock()
	assert.Equal(t, []events.EventType{events.JobStarted, events.JobCompleted}, kinds)
	mu.Unlock()
}

func TestSubmit_FullReportKeepsMarketReview(t *testing.T) {
	a := &fakeAnalyzer{}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 0)

	receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "000001", FullReport: true}))
	assert.False(t, a.args[0].NoMarketReview)
	assert.True(t, a.args[0].Debug)
}

func mustSubmit(e *Executor, req Request) <-chan Result {
	_, ch := e.Submit(context.Background(), req, "")
	return ch
}

func TestSubmit_AnalyzerErrorIsCollaboratorFailure(t *testing.T) {
	a := &fakeAnalyzer{err: errors.New("data source unavailable")}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 0)

	res := receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "600519"}))

	assert.False(t, res.Succeeded())
	assert.Equal(t, classify.KindCollaborator, res.ErrorKind)
	assert.Equal(t, "❌ 分析过程中发生错误：data source unavailable", res.Message)
}

func TestSubmit_AnalyzerValidationErrorPassesThrough(t *testing.T) {
	a := &fakeAnalyzer{err: &classify.ValidationError{Code: classify.CodeInvalidSymbol, Message: "未找到股票"}}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 0)

	res := receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "999999"}))

	assert.Equal(t, classify.KindValidation, res.ErrorKind)
	assert.Equal(t, "❌ 股票代码错误：未找到股票", res.Message)
}

func TestSubmit_PanicIsRecovered(t *testing.T) {
	a := &fakeAnalyzer{panics: true}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 0)

	res := receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "600519"}))

	assert.Equal(t, classify.KindCollaborator, res.ErrorKind)
	assert.Contains(t, res.Message, "analyzer exploded")
}

func TestSubmit_MarketReview(t *testing.T) {
	tests := []struct {
		name     string
		reviewer *fakeReviewer
		wantOK   bool
		wantMsg  string
	}{
		{"success", &fakeReviewer{ok: true}, true, ""},
		{"reported false", &fakeReviewer{ok: false}, false, "❌ 大盘复盘失败！"},
		{"raised", &fakeReviewer{err: errors.New("no data")}, false, "❌ 大盘复盘过程中发生错误：no data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestExecutor(t, &fakeAnalyzer{}, tt.reviewer, 0)

			res := receive(t, mustSubmit(e, Request{Kind: MarketReview}))

			assert.Equal(t, tt.wantOK, res.Succeeded())
			assert.Equal(t, tt.wantMsg, res.Message)
			require.Len(t, tt.reviewer.notifiers, 1)
			assert.NotNil(t, tt.reviewer.notifiers[0])
			assert.Nil(t, tt.reviewer.analyzer)
			assert.Nil(t, tt.reviewer.search)
		})
	}
}

func TestSubmit_FreshNotifierPerReview(t *testing.T) {
	r := &fakeReviewer{ok: true}
	e, _ := newTestExecutor(t, &fakeAnalyzer{}, r, 0)

	receive(t, mustSubmit(e, Request{Kind: MarketReview}))
	receive(t, mustSubmit(e, Request{Kind: MarketReview}))

	require.Len(t, r.notifiers, 2)
	assert.NotSame(t, r.notifiers[0], r.notifiers[1])
}

func TestSubmit_EachJobGetsItsOwnSnapshot(t *testing.T) {
	a := &fakeAnalyzer{}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 0)

	receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "600519"}))
	receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "000001"}))

	require.Len(t, a.snaps, 2)
	assert.NotEqual(t, a.snaps[0].ID, a.snaps[1].ID)
	a.snaps[0].Analysis.StockList[0] = "mutated"
	assert.Equal(t, "600519", a.snaps[1].Analysis.StockList[0])
}

// mutatingAnalyzer edits its snapshot while every other job is also running,
// then reports what it reads back once all of them have written.
type mutatingAnalyzer struct {
	started sync.WaitGroup
	written sync.WaitGroup

	mu   sync.Mutex
	seen map[string]string
}

func (m *mutatingAnalyzer) RunSingleSymbolAnalysis(_ context.Context, snap *config.Snapshot, _ analysis.Args, symbols []string) (*analysis.Report, error) {
	sym := symbols[0]
	m.started.Done()
	m.started.Wait()

	snap.Analysis.GeminiModel = "model-" + sym
	snap.Analysis.StockList[0] = sym
	m.written.Done()
	m.written.Wait()

	m.mu.Lock()
	m.seen[sym] = snap.Analysis.GeminiModel + "/" + snap.Analysis.StockList[0]
	m.mu.Unlock()
	return &analysis.Report{Kind: "single_symbol", Symbols: symbols}, nil
}

func TestSubmit_ConcurrentJobsMutateOnlyTheirOwnSnapshot(t *testing.T) {
	a := &mutatingAnalyzer{seen: make(map[string]string)}
	a.started.Add(2)
	a.written.Add(2)

	registry := NewRegistry()
	RegisterDefaults(registry, Collaborators{Analyzer: a, Reviewer: &fakeReviewer{}})
	cfg := &config.Config{Analysis: config.Analysis{GeminiModel: "base", StockList: []string{"base"}}}
	e := NewExecutor(registry, &snapshotSource{cfg: cfg}, nil, 0, zerolog.Nop())

	first := mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "600519"})
	second := mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "000001"})
	assert.True(t, receive(t, first).Succeeded())
	assert.True(t, receive(t, second).Succeeded())

	assert.Equal(t, map[string]string{
		"600519": "model-600519/600519",
		"000001": "model-000001/000001",
	}, a.seen)
	assert.Equal(t, "base", cfg.Analysis.GeminiModel)
	assert.Equal(t, []string{"base"}, cfg.Analysis.StockList)
}

func TestSubmit_SnapshotFailure(t *testing.T) {
	registry := NewRegistry()
	RegisterDefaults(registry, Collaborators{Analyzer: &fakeAnalyzer{}, Reviewer: &fakeReviewer{}})
	e := NewExecutor(registry, &snapshotSource{err: errors.New("encode failed")}, nil, 0, zerolog.Nop())

	res := receive(t, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "600519"}))
	assert.Equal(t, classify.KindCollaborator, res.ErrorKind)
	assert.Contains(t, res.Message, "encode failed")
}

func TestSubmit_ConcurrencyLimit(t *testing.T) {
	a := &fakeAnalyzer{block: make(chan struct{})}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 2)

	var chans []<-chan Result
	for _, sym := range []string{"600519", "000001", "300750", "601318"} {
		chans = append(chans, mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: sym}))
	}

	require.Eventually(t, func() bool { return a.running.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, e.InFlight(), 4)

	close(a.block)
	for _, ch := range chans {
		assert.True(t, receive(t, ch).Succeeded())
	}
	require.NoError(t, e.Wait(context.Background()))

	assert.Equal(t, int32(2), a.peak.Load())
	assert.Empty(t, e.InFlight())
}

func TestExecute_UnregisteredKind(t *testing.T) {
	e := NewExecutor(NewRegistry(), &snapshotSource{cfg: &config.Config{}}, nil, 0, zerolog.Nop())

	res := e.Execute(context.Background(), "j", Request{Kind: MarketReview}, nil, "")
	assert.False(t, res.Succeeded())
	assert.Equal(t, classify.KindCollaborator, res.ErrorKind)
}

func TestWait_RespectsContext(t *testing.T) {
	a := &fakeAnalyzer{block: make(chan struct{})}
	e, _ := newTestExecutor(t, a, &fakeReviewer{}, 0)
	ch := mustSubmit(e, Request{Kind: SingleSymbolAnalysis, Symbol: "600519"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Wait(ctx), context.DeadlineExceeded)

	close(a.block)
	receive(t, ch)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r, Collaborators{})

	assert.Equal(t, []Kind{MarketReview, SingleSymbolAnalysis}, r.Kinds())
	assert.NotNil(t, r.Get(MarketReview))
	assert.Nil(t, r.Get("nope"))
}
