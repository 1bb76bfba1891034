package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/config"
	"github.com/aristath/stockbot/internal/notify"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
)

const (
	defaultMaxOutput  = 64 * 1024
	marketReviewTitle = "大盘复盘"

	// The program reports rejected input as an uncaught ValueError.
	valueErrorPrefix = "ValueError:"
)

// CommandRunner runs the analysis program as a subprocess, one process per job.
// It implements both SingleSymbolAnalyzer and MarketReviewer.
type CommandRunner struct {
	argv      []string
	workDir   string
	maxOutput int
	log       zerolog.Logger
}

// NewCommandRunner splits command with shell quoting rules, e.g. `python main.py`.
func NewCommandRunner(command, workDir string, log zerolog.Logger) (*CommandRunner, error) {
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse analysis command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("analysis command is empty")
	}
	return &CommandRunner{
		argv:      argv,
		workDir:   workDir,
		maxOutput: defaultMaxOutput,
		log:       log.With().Str("component", "analysis_runner").Logger(),
	}, nil
}

// RunSingleSymbolAnalysis implements SingleSymbolAnalyzer.
func (r *CommandRunner) RunSingleSymbolAnalysis(ctx context.Context, snap *config.Snapshot, args Args, symbols []string) (*Report, error) {
	if len(symbols) == 0 {
		return nil, errors.New("no symbols to analyze")
	}
	args.Stocks = append([]string(nil), symbols...)

	out, err := r.run(ctx, snap, args.Flags(), nil)
	if err != nil {
		return nil, err
	}
	return &Report{
		Kind:        "single_symbol",
		Symbols:     args.Stocks,
		Output:      out,
		GeneratedAt: time.Now(),
	}, nil
}

// RunMarketReview implements MarketReviewer. The program runs with notifications
// off and the captured review is sent through notifier instead.
func (r *CommandRunner) RunMarketReview(ctx context.Context, snap *config.Snapshot, notifier notify.Notifier, analyzer Analyzer, search SearchService) (*Report, bool, error) {
	var extra []string
	if analyzer != nil {
		extra = append(extra, "ANALYSIS_MODEL="+analyzer.Model())
	}
	if search != nil {
		extra = append(extra, "SEARCH_PROVIDER="+search.Provider())
	}

	args := Args{Debug: true, MarketReview: true, NoNotify: true}
	out, err := r.run(ctx, snap, args.Flags(), extra)
	if err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(out) == "" {
		r.log.Warn().Msg("Market review produced no output")
		return nil, false, nil
	}

	if notifier != nil {
		if err := notifier.Send(ctx, marketReviewTitle, out); err != nil {
			r.log.Warn().Err(err).Strs("channels", notifier.Channels()).Msg("Market review notification failed")
		}
	}

	return &Report{
		Kind:        "market_review",
		Output:      out,
		GeneratedAt: time.Now(),
	}, true, nil
}

func (r *CommandRunner) run(ctx context.Context, snap *config.Snapshot, flags, extraEnv []string) (string, error) {
	argv := append(append([]string(nil), r.argv[1:]...), flags...)
	cmd := exec.CommandContext(ctx, r.argv[0], argv...)
	cmd.Dir = r.workDir

	env := os.Environ()
	if snap != nil {
		env = append(env, snap.Analysis.Environ()...)
	}
	cmd.Env = append(env, extraEnv...)

	stdout := &tailBuffer{limit: r.maxOutput}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	r.log.Debug().Strs("args", argv).Msg("Starting analysis program")

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("analysis program interrupted: %w", ctxErr)
		}
		detail := lastLine(stderr.String())
		if msg, ok := strings.CutPrefix(detail, valueErrorPrefix); ok {
			return "", &classify.ValidationError{
				Code:    classify.CodeInvalidSymbol,
				Param:   "stock_code",
				Message: strings.TrimSpace(msg),
			}
		}
		if detail != "" {
			return "", fmt.Errorf("%w: %s", err, detail)
		}
		return "", err
	}

	r.log.Debug().Dur("duration", time.Since(start)).Int("output_bytes", stdout.Len()).Msg("Analysis program finished")
	return stdout.String(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.limit {
		t.buf.Reset()
		t.buf.Write(p[len(p)-t.limit:])
		return n, nil
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }

func (t *tailBuffer) Len() int { return t.buf.Len() }
