package model

import "net/http"

// RateLimitHeader is the response header ASA uses to report the remaining request budget.
const RateLimitHeader = "X-Ratelimit-Remaining"

// RateLimit is the rate-limit budget observed on a single HTTP response.
type RateLimit struct {
	Remaining string
	Observed  bool
}

// RateLimitFromHeader captures the remaining budget from response headers.
func RateLimitFromHeader(h http.Header) RateLimit {
	v := h.Get(RateLimitHeader)
	return RateLimit{Remaining: v, Observed: v != ""}
}
