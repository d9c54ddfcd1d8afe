// Package llm implements the LLM Adapter (C3): a uniform completion
// capability over heterogeneous provider backends, selected by configuration
// and shared by the Planner and Sequential Executor.
package llm

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider identifies a backend the adapter can talk to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderZhipu     Provider = "zhipu"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderLongCat   Provider = "longcat"
	ProviderMoonshot  Provider = "moonshot"
	ProviderAliyun    Provider = "aliyun"
	ProviderLocal     Provider = "local"
)

// openAICompatible lists providers that speak the OpenAI chat-completions
// wire format, so a single transport serves all of them (spec.md §4.7:
// "Providers marked OpenAI-compatible share transport").
var openAICompatible = map[Provider]bool{
	ProviderOpenAI:   true,
	ProviderZhipu:    true,
	ProviderDeepSeek: true,
	ProviderLongCat:  true,
	ProviderMoonshot: true,
	ProviderAliyun:   true,
	ProviderLocal:    true,
}

// Config configures adapter construction.
type Config struct {
	Provider    Provider
	ModelName   string
	APIKey      string
	Endpoint    string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int

	Headers map[string]string
}

// Option is a functional option for Config, following the teacher's AIOption
// pattern in ai/provider.go.
type Option func(*Config)

func WithProvider(p Provider) Option    { return func(c *Config) { c.Provider = p } }
func WithAPIKey(key string) Option      { return func(c *Config) { c.APIKey = key } }
func WithEndpoint(url string) Option    { return func(c *Config) { c.Endpoint = url } }
func WithModel(model string) Option     { return func(c *Config) { c.ModelName = model } }
func WithTemperature(t float32) Option  { return func(c *Config) { c.Temperature = t } }
func WithMaxTokens(n int) Option        { return func(c *Config) { c.MaxTokens = n } }
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }
func WithMaxRetries(n int) Option       { return func(c *Config) { c.MaxRetries = n } }
func WithHeaders(h map[string]string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		for k, v := range h {
			c.Headers[k] = v
		}
	}
}

// WithProviderDefaults auto-configures APIKey/Endpoint from well-known
// environment variables when the caller hasn't set them explicitly,
// generalizing ai/provider.go's WithProviderAlias auto-configuration from a
// fixed OpenAI-compatible alias list to the spec's required provider set.
func WithProviderDefaults(p Provider) Option {
	return func(c *Config) {
		c.Provider = p
		if c.APIKey != "" && c.Endpoint != "" {
			return
		}
		switch p {
		case ProviderOpenAI:
			setIfEmpty(&c.APIKey, os.Getenv("OPENAI_API_KEY"))
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), "https://api.openai.com/v1"))
		case ProviderAnthropic:
			setIfEmpty(&c.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("ANTHROPIC_BASE_URL"), "https://api.anthropic.com/v1"))
		case ProviderZhipu:
			setIfEmpty(&c.APIKey, os.Getenv("ZHIPU_API_KEY"))
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("ZHIPU_BASE_URL"), "https://open.bigmodel.cn/api/paas/v4"))
		case ProviderDeepSeek:
			setIfEmpty(&c.APIKey, os.Getenv("DEEPSEEK_API_KEY"))
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("DEEPSEEK_BASE_URL"), "https://api.deepseek.com"))
		case ProviderLongCat:
			setIfEmpty(&c.APIKey, os.Getenv("LONGCAT_API_KEY"))
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("LONGCAT_BASE_URL"), "https://api.longcat.chat/openai"))
		case ProviderMoonshot:
			setIfEmpty(&c.APIKey, os.Getenv("MOONSHOT_API_KEY"))
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("MOONSHOT_BASE_URL"), "https://api.moonshot.cn/v1"))
		case ProviderAliyun:
			setIfEmpty(&c.APIKey, os.Getenv("DASHSCOPE_API_KEY"))
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("ALIYUN_BASE_URL"), "https://dashscope.aliyuncs.com/compatible-mode/v1"))
		case ProviderLocal:
			setIfEmpty(&c.Endpoint, firstNonEmpty(os.Getenv("LOCAL_LLM_BASE_URL"), "http://localhost:11434/v1"))
		}
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsOpenAICompatible reports whether p shares the OpenAI wire transport.
func IsOpenAICompatible(p Provider) bool {
	return openAICompatible[p]
}

// TaggedModel prefixes a bare model name with the provider tag the
// underlying connector expects (e.g. "openai/gpt-4", "zhipu/glm-4"), so
// callers of Adapter.Complete can keep supplying bare model names per
// spec.md §4.7.
func TaggedModel(p Provider, model string) string {
	return fmt.Sprintf("%s/%s", strings.ToLower(string(p)), model)
}
