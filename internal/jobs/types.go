// Package jobs runs analysis and market review jobs off the gateway loop.
// Every job gets its own configuration snapshot and reports back exactly once
// on a result channel.
package jobs

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aristath/stockbot/internal/analysis"
	"github.com/aristath/stockbot/internal/classify"
)

// Kind identifies what a job does.
type Kind string

const (
	// SingleSymbolAnalysis analyzes one stock.
	SingleSymbolAnalysis Kind = "single_symbol_analysis"
	// MarketReview reviews the whole market and notifies configured channels.
	MarketReview Kind = "market_review"
)

// Label is the user-facing job name, e.g. in "still running" messages.
func (k Kind) Label() string {
	switch k {
	case SingleSymbolAnalysis:
		return "股票分析"
	case MarketReview:
		return "大盘复盘"
	default:
		return string(k)
	}
}

// opLabel names the collaborator operation in failure messages.
func (k Kind) opLabel() string {
	if k == SingleSymbolAnalysis {
		return "分析"
	}
	return k.Label()
}

// Request describes one unit of work.
type Request struct {
	Kind       Kind
	Symbol     string // SingleSymbolAnalysis only
	FullReport bool   // include the market review section
}

// Validate checks a request before it is executed. A nil symbol pattern only
// requires the symbol to be present.
func (r Request) Validate(symbol *regexp.Regexp) error {
	switch r.Kind {
	case SingleSymbolAnalysis:
		if strings.TrimSpace(r.Symbol) == "" {
			return &classify.ValidationError{
				Code:    classify.CodeMissingParameter,
				Param:   "stock_code",
				Message: "缺少股票代码",
			}
		}
		if symbol != nil && !symbol.MatchString(r.Symbol) {
			return &classify.ValidationError{
				Code:    classify.CodeInvalidSymbol,
				Param:   "stock_code",
				Message: fmt.Sprintf("股票代码格式不正确：%q", r.Symbol),
			}
		}
	case MarketReview:
	default:
		return fmt.Errorf("unknown job kind %q", r.Kind)
	}
	return nil
}

// Result is the single outcome of a job. Err is nil on success, in which case
// Report is set; otherwise ErrorKind and Message carry the classified failure.
type Result struct {
	JobID     string
	Request   Request
	Report    *analysis.Report
	Err       error
	ErrorKind classify.Kind
	Message   string
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports whether the job finished without error.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

func success(jobID string, req Request, report *analysis.Report, started time.Time) Result {
	return Result{
		JobID:     jobID,
		Request:   req,
		Report:    report,
		StartedAt: started,
		Duration:  time.Since(started),
	}
}

func failure(jobID string, req Request, err error, started time.Time) Result {
	kind, msg := classify.Classify(err)
	return Result{
		JobID:     jobID,
		Request:   req,
		Err:       err,
		ErrorKind: kind,
		Message:   msg,
		StartedAt: started,
		Duration:  time.Since(started),
	}
}
