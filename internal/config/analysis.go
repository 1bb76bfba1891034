package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// analysisEnvPrefix marks variables forwarded verbatim to the analysis program.
const analysisEnvPrefix = "ANALYSIS_ENV_"

// Analysis holds the settings the external analysis program consumes.
// Every job receives its own deep copy of this struct inside a Snapshot.
type Analysis struct {
	StockList []string `msgpack:"stock_list"`

	GeminiAPIKey  string `msgpack:"gemini_api_key"`
	GeminiModel   string `msgpack:"gemini_model"`
	OpenAIAPIKey  string `msgpack:"openai_api_key"`
	OpenAIBaseURL string `msgpack:"openai_base_url"`
	OpenAIModel   string `msgpack:"openai_model"`

	TushareToken  string   `msgpack:"tushare_token"`
	TavilyAPIKeys []string `msgpack:"tavily_api_keys"`

	WechatWebhookURL  string   `msgpack:"wechat_webhook_url"`
	FeishuWebhookURL  string   `msgpack:"feishu_webhook_url"`
	TelegramBotToken  string   `msgpack:"telegram_bot_token"`
	TelegramChatID    string   `msgpack:"telegram_chat_id"`
	DiscordWebhookURL string   `msgpack:"discord_webhook_url"`
	CustomWebhookURLs []string `msgpack:"custom_webhook_urls"`
	SingleStockNotify bool     `msgpack:"single_stock_notify"`
	MaxWorkers        int      `msgpack:"max_workers"`

	// Extra carries ANALYSIS_ENV_* passthrough values keyed by the stripped name.
	Extra map[string]string `msgpack:"extra"`
}

func loadAnalysis() Analysis {
	return Analysis{
		StockList:         getEnvAsList("STOCK_LIST"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", ""),
		TushareToken:      getEnv("TUSHARE_TOKEN", ""),
		TavilyAPIKeys:     getEnvAsList("TAVILY_API_KEYS"),
		WechatWebhookURL:  getEnv("WECHAT_WEBHOOK_URL", ""),
		FeishuWebhookURL:  getEnv("FEISHU_WEBHOOK_URL", ""),
		TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		CustomWebhookURLs: getEnvAsList("CUSTOM_WEBHOOK_URLS"),
		SingleStockNotify: getEnvAsBool("SINGLE_STOCK_NOTIFY", false),
		MaxWorkers:        getEnvAsInt("MAX_WORKERS", 3),
		Extra:             loadPassthrough(os.Environ()),
	}
}

func loadPassthrough(environ []string) map[string]string {
	extra := make(map[string]string)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, analysisEnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(kv, analysisEnvPrefix), "=")
		if !ok || key == "" {
			continue
		}
		extra[key] = value
	}
	return extra
}

// Environ renders the settings as KEY=VALUE pairs for the analysis process.
// Empty values are omitted so the program falls back to its own defaults.
// Output is sorted for stable logs and tests.
func (a *Analysis) Environ() []string {
	vars := map[string]string{
		"STOCK_LIST":          strings.Join(a.StockList, ","),
		"GEMINI_API_KEY":      a.GeminiAPIKey,
		"GEMINI_MODEL":        a.GeminiModel,
		"OPENAI_API_KEY":      a.OpenAIAPIKey,
		"OPENAI_BASE_URL":     a.OpenAIBaseURL,
		"OPENAI_MODEL":        a.OpenAIModel,
		"TUSHARE_TOKEN":       a.TushareToken,
		"TAVILY_API_KEYS":     strings.Join(a.TavilyAPIKeys, ","),
		"WECHAT_WEBHOOK_URL":  a.WechatWebhookURL,
		"FEISHU_WEBHOOK_URL":  a.FeishuWebhookURL,
		"TELEGRAM_BOT_TOKEN":  a.TelegramBotToken,
		"TELEGRAM_CHAT_ID":    a.TelegramChatID,
		"DISCORD_WEBHOOK_URL": a.DiscordWebhookURL,
		"CUSTOM_WEBHOOK_URLS": strings.Join(a.CustomWebhookURLs, ","),
	}
	if a.SingleStockNotify {
		vars["SINGLE_STOCK_NOTIFY"] = "true"
	}
	if a.MaxWorkers > 0 {
		vars["MAX_WORKERS"] = strconv.Itoa(a.MaxWorkers)
	}
	for k, v := range a.Extra {
		// Explicit settings win over passthrough values.
		if _, exists := vars[k]; !exists || vars[k] == "" {
			vars[k] = v
		}
	}

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		if v == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
