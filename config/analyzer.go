package config

import (
	"strings"
	"time"
)

// AnalyzerConfig configures the OpenAI-compatible chat completion backend that writes reports.
type AnalyzerConfig struct {
	BaseURL string        `env:"ANALYZER_BASE_URL" envDefault:"https://dashscope.aliyuncs.com/compatible-mode/v1"`
	APIKey  string        `env:"ANALYZER_API_KEY"`
	Model   string        `env:"ANALYZER_MODEL"    envDefault:"qwen-plus"`
	Timeout time.Duration `env:"ANALYZER_TIMEOUT"  envDefault:"5m"`

	// ResultExpression is a JMESPath expression selecting the report text from the response body.
	ResultExpression string `env:"ANALYZER_RESULT_EXPRESSION" envDefault:"choices[0].message.content"`

	// SystemPrompt and PromptTemplate override the built-in prompts when set.
	// PromptTemplate is a text/template executed against the analysis input.
	SystemPrompt   string `env:"ANALYZER_SYSTEM_PROMPT"`
	PromptTemplate string `env:"ANALYZER_PROMPT_TEMPLATE"`
}

// Sanitize normalises analyzer configuration values.
func (a *AnalyzerConfig) Sanitize() {
	a.BaseURL = strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	a.APIKey = strings.TrimSpace(a.APIKey)
	a.Model = strings.TrimSpace(a.Model)
	if a.Timeout <= 0 {
		a.Timeout = 5 * time.Minute
	}
	if strings.TrimSpace(a.ResultExpression) == "" {
		a.ResultExpression = "choices[0].message.content"
	}
}

// IsConfigured reports whether the analyzer has the minimum settings to make calls.
func (a *AnalyzerConfig) IsConfigured() bool {
	return a.BaseURL != "" && a.APIKey != "" && a.Model != ""
}
