package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/geobatch/internal/resilience"
)

// reply is one canned Geocoding API response. A zero code means 200.
type reply struct {
	code int
	body string
}

func okReply(body string) reply { return reply{body: body} }

// googleStub stands in for maps.googleapis.com. It serves its replies in
// order, repeating the last one, and records every query it receives.
type googleStub struct {
	srv *httptest.Server

	mu      sync.Mutex
	replies []reply
	queries []url.Values
}

func newGoogleStub(t *testing.T, replies ...reply) *googleStub {
	t.Helper()
	s := &googleStub{replies: replies}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *googleStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.queries)
	s.queries = append(s.queries, r.URL.Query())
	var rep reply
	if len(s.replies) > 0 {
		rep = s.replies[min(n, len(s.replies)-1)]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if rep.code != 0 {
		w.WriteHeader(rep.code)
	}
	_, _ = io.WriteString(w, rep.body)
}

func (s *googleStub) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *googleStub) lastQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return nil
	}
	return s.queries[len(s.queries)-1]
}

// client returns a GoogleClient whose requests reach the stub, with no
// rate limit and instant retries.
func (s *googleStub) client(opts ...Option) *GoogleClient {
	target, _ := url.Parse(s.srv.URL)
	base := []Option{
		WithHTTPClient(&http.Client{Transport: stubTransport{target: target}}),
		WithRetry(resilience.RetryConfig{
			MaxAttempts: 3,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		}),
		func(g *GoogleClient) { g.limiter = rate.NewLimiter(rate.Inf, 1) },
	}
	return NewGoogle("test-key", append(base, opts...)...)
}

// stubTransport sends every request to target, keeping path and query.
type stubTransport struct{ target *url.URL }

func (t stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(out)
}
