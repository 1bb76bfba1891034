package interaction

import (
	"fmt"

	"github.com/aristath/stockbot/internal/jobs"
)

// successMessage is the short confirmation sent when a job finishes.
func successMessage(req jobs.Request) string {
	switch req.Kind {
	case jobs.SingleSymbolAnalysis:
		return fmt.Sprintf("✅ 股票分析完成！%s 的分析报告已生成。", req.Symbol)
	case jobs.MarketReview:
		return "✅ 大盘复盘完成！报告已生成。"
	default:
		return "✅ 任务完成！"
	}
}
