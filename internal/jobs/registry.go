package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aristath/stockbot/internal/analysis"
	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/config"
	"github.com/aristath/stockbot/internal/notify"
)

// RunFunc executes one job against its snapshot.
type RunFunc func(ctx context.Context, req Request, snap *config.Snapshot) (*analysis.Report, error)

// JobType binds a job kind to the function that runs it.
type JobType struct {
	Kind        Kind
	Description string
	Run         RunFunc
}

// Registry holds all registered job types.
type Registry struct {
	types map[Kind]*JobType
	mu    sync.RWMutex
}

// NewRegistry creates an empty job type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[Kind]*JobType)}
}

// Register adds a job type to the registry.
// If a job type with the same kind already exists, it will be replaced.
func (r *Registry) Register(jt *JobType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[jt.Kind] = jt
}

// Get returns a job type by kind, or nil if not found.
func (r *Registry) Get(kind Kind) *JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.types[kind]
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.types))
	for k := range r.types {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Collaborators are the external programs jobs delegate to.
type Collaborators struct {
	Analyzer analysis.SingleSymbolAnalyzer
	Reviewer analysis.MarketReviewer
	// NewNotifier is called once per market review so no job shares a notifier.
	NewNotifier func() notify.Notifier
}

// RegisterDefaults registers the analysis and market review job types.
func RegisterDefaults(r *Registry, c Collaborators) {
	r.Register(&JobType{
		Kind:        SingleSymbolAnalysis,
		Description: "Analyze a single stock",
		Run:         singleSymbolJob(c.Analyzer),
	})
	r.Register(&JobType{
		Kind:        MarketReview,
		Description: "Review the overall market and notify",
		Run:         marketReviewJob(c.Reviewer, c.NewNotifier),
	})
}

func singleSymbolJob(a analysis.SingleSymbolAnalyzer) RunFunc {
	return func(ctx context.Context, req Request, snap *config.Snapshot) (*analysis.Report, error) {
		report, err := a.RunSingleSymbolAnalysis(ctx, snap, analysis.SingleSymbolArgs(req.FullReport), []string{req.Symbol})
		if err != nil {
			var verr *classify.ValidationError
			if errors.As(err, &verr) {
				return nil, err
			}
			return nil, &classify.CollaboratorError{Op: req.Kind.opLabel(), Err: err}
		}
		return report, nil
	}
}

func marketReviewJob(rv analysis.MarketReviewer, newNotifier func() notify.Notifier) RunFunc {
	return func(ctx context.Context, req Request, snap *config.Snapshot) (*analysis.Report, error) {
		var n notify.Notifier
		if newNotifier != nil {
			n = newNotifier()
		}
		report, ok, err := rv.RunMarketReview(ctx, snap, n, nil, nil)
		if err != nil {
			return nil, &classify.CollaboratorError{Op: req.Kind.opLabel(), Err: err}
		}
		if !ok {
			return nil, &classify.CollaboratorError{Op: req.Kind.opLabel()}
		}
		return report, nil
	}
}
