package commands

import "github.com/aristath/stockbot/internal/jobs"

const (
	StockAnalyze = "stock_analyze"
	MarketReview = "market_review"
	Help         = "help"
	About        = "about"
)

const helpText = `
📊 **A股智能分析机器人帮助**

### 支持的命令：

1. ` + "`/stock_analyze <stock_code> [full_report]`" + `
   - 分析指定股票代码
   - ` + "`stock_code`" + `: 股票代码，如 600519
   - ` + "`full_report`" + `: 可选，是否生成完整报告（包含大盘）

2. ` + "`/market_review`" + `
   - 获取大盘复盘报告

3. ` + "`/help`" + `
   - 查看此帮助信息

### 示例：
- ` + "`/stock_analyze 600519`" + ` - 分析贵州茅台
- ` + "`/stock_analyze 300750 true`" + ` - 生成宁德时代的完整报告
- ` + "`/market_review`" + ` - 获取大盘复盘

### 配置说明：
机器人使用项目的.env配置文件，需要确保配置正确的API密钥和通知渠道。

📈 数据来源：Tushare、Efinance
🤖 AI分析：Gemini
`

const aboutText = `
🤖 **关于A股智能分析机器人**

### 项目信息：
- **名称**：A股自选股智能分析系统
- **版本**：v1.0.0
- **作者**：daily_stock_analysis团队
- **GitHub**：https://github.com/ZhuLinsen/daily_stock_analysis

### 功能特点：
- ✅ 多数据源支持（Tushare、Efinance）
- ✅ AI驱动的智能分析（Gemini）
- ✅ 实时新闻整合
- ✅ 多渠道通知推送
- ✅ Discord机器人支持
- ✅ 大盘复盘分析
- ✅ 技术指标计算

### 联系方式：
如有问题或建议，欢迎在GitHub上提交Issue或PR。
`

// Defaults returns the bot's command set.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			Name:        StockAnalyze,
			Description: "分析指定股票代码",
			Job:         jobs.SingleSymbolAnalysis,
			Params: []Param{
				{Name: "stock_code", Description: "股票代码，如 600519", Type: TypeSymbol, Required: true, Bind: FieldSymbol},
				{Name: "full_report", Description: "是否生成完整报告（包含大盘）", Type: TypeBool, Default: false, Bind: FieldFullReport},
			},
		},
		{
			Name:        MarketReview,
			Description: "获取大盘复盘",
			Job:         jobs.MarketReview,
		},
		{
			Name:        Help,
			Description: "查看帮助信息",
			Reply:       helpText,
		},
		{
			Name:        About,
			Description: "关于机器人",
			Reply:       aboutText,
		},
	}
}

// NewDefaultRegistry builds a registry holding Defaults.
func NewDefaultRegistry(symbolPattern string) (*Registry, error) {
	r, err := NewRegistry(symbolPattern)
	if err != nil {
		return nil, err
	}
	for _, d := range Defaults() {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}
