// Maps requests to rate limit tiers.

package ratelimit

import (
	"net/http"
	"time"
)

// HealthPath is never rate limited.
const HealthPath = "/api/health"

// Tier is a named budget shared by a class of requests.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Config holds the read and write tiers. A tier without a Limiter is not
// limited.
type Config struct {
	Read  Tier
	Write Tier
}

// NewConfig returns tiers allowing readPerMin GET requests and writePerMin
// other requests per minute and per client. Zero disables a tier.
//
// Bursts of a sixth of the per minute budget are allowed.
func NewConfig(readPerMin, writePerMin int) *Config {
	return &Config{
		Read:  newTier("read", readPerMin),
		Write: newTier("write", writePerMin),
	}
}

func newTier(name string, perMin int) Tier {
	t := Tier{Name: name}
	if perMin > 0 {
		t.Limiter = NewLimiter(perMin, time.Minute, max(perMin/6, 1))
	}
	return t
}

// Match returns the tier for the request, or nil when it is not limited.
func (c *Config) Match(method, path string) *Tier {
	if path == HealthPath {
		return nil
	}
	t := &c.Write
	if method == http.MethodGet || method == http.MethodHead {
		t = &c.Read
	}
	if t.Limiter == nil {
		return nil
	}
	return t
}

// Close stops the limiters.
func (c *Config) Close() {
	for _, t := range []Tier{c.Read, c.Write} {
		if t.Limiter != nil {
			t.Limiter.Close()
		}
	}
}
