// Package analysis adapts the external stock analysis program to the bot's jobs.
package analysis

import (
	"strconv"
	"strings"
)

// Args mirrors the analysis program's command-line switches.
// The bot builds one per job; it is never a parsed command line.
type Args struct {
	Debug          bool
	DryRun         bool
	NoNotify       bool
	SingleNotify   bool
	Workers        int // 0 leaves the program's default
	Schedule       bool
	MarketReview   bool
	NoMarketReview bool
	WebUI          bool
	WebUIOnly      bool
	Stocks         []string
}

// SingleSymbolArgs is the descriptor used for an interactive single-stock analysis.
// The market review section is only included in full reports.
func SingleSymbolArgs(fullReport bool) Args {
	return Args{
		Debug:          true,
		NoMarketReview: !fullReport,
	}
}

// Flags renders the descriptor as command-line flags, in a stable order.
func (a Args) Flags() []string {
	var flags []string
	add := func(on bool, flag string) {
		if on {
			flags = append(flags, flag)
		}
	}
	add(a.Debug, "--debug")
	add(a.DryRun, "--dry-run")
	add(a.NoNotify, "--no-notify")
	add(a.SingleNotify, "--single-notify")
	if a.Workers > 0 {
		flags = append(flags, "--workers", strconv.Itoa(a.Workers))
	}
	add(a.Schedule, "--schedule")
	add(a.MarketReview, "--market-review")
	add(a.NoMarketReview, "--no-market-review")
	add(a.WebUI, "--webui")
	add(a.WebUIOnly, "--webui-only")
	if len(a.Stocks) > 0 {
		flags = append(flags, "--stocks", strings.Join(a.Stocks, ","))
	}
	return flags
}
