package analysis

import (
	"context"
	"time"

	"github.com/aristath/stockbot/internal/config"
	"github.com/aristath/stockbot/internal/notify"
)

// Report is what a successful run leaves behind.
type Report struct {
	Kind        string
	Symbols     []string
	Output      string // tail of the program's stdout
	GeneratedAt time.Time
}

// Analyzer overrides the model a market review uses. Nil keeps the program default.
type Analyzer interface {
	Model() string
}

// SearchService overrides the news search provider. Nil keeps the program default.
type SearchService interface {
	Provider() string
}

// SingleSymbolAnalyzer produces a report for the given symbols.
// An error means the analysis raised; the report is only meaningful on success.
type SingleSymbolAnalyzer interface {
	RunSingleSymbolAnalysis(ctx context.Context, snap *config.Snapshot, args Args, symbols []string) (*Report, error)
}

// MarketReviewer produces a market-wide review and sends it through notifier.
// It returns false when the review ran but produced nothing.
type MarketReviewer interface {
	RunMarketReview(ctx context.Context, snap *config.Snapshot, notifier notify.Notifier, analyzer Analyzer, search SearchService) (*Report, bool, error)
}
