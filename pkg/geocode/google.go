package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geobatch/internal/cost"
	"github.com/sells-group/geobatch/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location     *LatLng `json:"location"`
		LocationType string  `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress  string `json:"formatted_address"`
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
}

// Option configures a GoogleClient.
type Option func(*GoogleClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *GoogleClient) { g.httpClient = hc }
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(g *GoogleClient) {
		burst := max(int(rps), 1)
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRegion biases results toward a ccTLD region code (e.g. "py").
func WithRegion(region string) Option {
	return func(g *GoogleClient) { g.region = region }
}

// WithLanguage sets the language of formatted addresses.
func WithLanguage(lang string) Option {
	return func(g *GoogleClient) { g.language = lang }
}

// WithRetry sets the retry policy for transient API failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(g *GoogleClient) { g.retry = cfg }
}

// GoogleClient geocodes and reverse-geocodes with the Google Geocoding API.
type GoogleClient struct {
	httpClient *http.Client
	key        string
	region     string
	language   string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
}

// NewGoogle creates a Google geocoding client. The default limit is 40 req/s.
func NewGoogle(key string, opts ...Option) *GoogleClient {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("geocode.google")
	g := &GoogleClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		key:        key,
		limiter:    rate.NewLimiter(40, 40),
		retry:      retry,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode implements Client.
func (g *GoogleClient) Geocode(ctx context.Context, addr AddressInput) ([]Candidate, error) {
	q := addr.Query()
	if q == "" {
		return nil, nil
	}
	params := url.Values{"address": {q}}
	if g.region != "" {
		params.Set("region", g.region)
	}
	return g.lookup(ctx, params)
}

// Reverse returns the candidates Google has for a coordinate, most specific first.
func (g *GoogleClient) Reverse(ctx context.Context, lat, lng float64) ([]Candidate, error) {
	params := url.Values{
		"latlng": {strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)},
	}
	return g.lookup(ctx, params)
}

func (g *GoogleClient) lookup(ctx context.Context, params url.Values) ([]Candidate, error) {
	if g.key == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	params.Set("key", g.key)
	if g.language != "" {
		params.Set("language", g.language)
	}

	return resilience.DoVal(ctx, g.retry, func(ctx context.Context) ([]Candidate, error) {
		return g.do(ctx, params)
	})
}

func (g *GoogleClient) do(ctx context.Context, params url.Values) ([]Candidate, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("geocode: google", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var gr googleGeocodeResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch gr.Status {
	case "OK":
		cost.FromContext(ctx).AddGeocode(1)
	case "ZERO_RESULTS":
		cost.FromContext(ctx).AddGeocode(1)
		return []Candidate{}, nil
	case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
		return nil, resilience.NewTransientError(eris.Errorf("geocode: google status %s", gr.Status), http.StatusTooManyRequests)
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", gr.Status, gr.ErrorMessage)
	}

	out := make([]Candidate, 0, len(gr.Results))
	for _, r := range gr.Results {
		out = append(out, toCandidate(r))
	}
	zap.L().Debug("geocode: google results", zap.Int("candidates", len(out)))
	return out, nil
}

func toCandidate(r googleResult) Candidate {
	c := Candidate{
		Location:         r.Geometry.Location,
		FormattedAddress: r.FormattedAddress,
		LocationType:     r.Geometry.LocationType,
	}
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "postal_code":
				c.PostalCode = comp.LongName
			case "locality":
				c.Locality = comp.LongName
			case "sublocality", "sublocality_level_1", "neighborhood":
				if c.Sublocality == "" {
					c.Sublocality = comp.LongName
				}
			case "administrative_area_level_1":
				c.AdminArea = comp.LongName
			case "administrative_area_level_2":
				c.AdminArea2 = comp.LongName
			case "country":
				c.Country = comp.LongName
			}
		}
	}
	return c
}
