package models

// PromptRequest is a single text-generation request submitted to the gateway.
type PromptRequest struct {
	Prompt     string   `json:"prompt"`
	ExtraFlags []string `json:"extra_flags,omitempty"`
	UseCache   *bool    `json:"use_cache,omitempty"`
}

// CacheEnabled reports whether the request opts into the response cache.
// Caching defaults to on when the field is absent.
func (r PromptRequest) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

// Result is the outcome of one orchestrated request. Failures are ordinary
// values, not errors: Error carries the reason and, for rate-limited
// requests, WaitSeconds tells the caller how long until a slot frees up.
type Result struct {
	Success     bool        `json:"success"`
	Output      string      `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	FromCache   bool        `json:"from_cache,omitempty"`
	Attempts    int         `json:"attempts,omitempty"`
	WaitSeconds int         `json:"wait_seconds,omitempty"`
	Usage       *UsageStats `json:"usage,omitempty"`
}

// RateLimited reports whether the result was denied by the limiter.
func (r Result) RateLimited() bool {
	return !r.Success && r.WaitSeconds > 0
}
