package delta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-gateway/pkg/exchanges/common"
)

// Venue error codes that mean the key itself is unusable.
var authErrorCodes = map[string]bool{
	"invalid_api_key":                true,
	"unauthorized":                   true,
	"UnauthorizedApiAccess":          true,
	"signature_mismatch":             true,
	"ip_not_whitelisted_for_api_key": true,
}

const codeExpiredSignature = "expired_signature"

// Config tunes the dispatcher.
type Config struct {
	MaxRetries int           // re-signed attempts after an expired signature
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on the retry delay
	Timeout    time.Duration // per HTTP attempt
	RateLimit  float64       // requests per second, 0 disables pacing
	RateBurst  int
	UserAgent  string

	IgnoreDateHeader bool // do not derive the clock offset from response Date headers
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Timeout:    10 * time.Second,
		RateLimit:  10,
		RateBurst:  5,
		UserAgent:  "trading-gateway/1.0",
	}
}

// Call describes one logical venue request.
type Call struct {
	Method string
	Path   string // with or without the /v2 prefix
	Query  url.Values
	Body   any

	// RequiresActiveSession gates the call on the session controller.
	RequiresActiveSession bool
	// Strict disables the empty-result fallback for GET failures.
	Strict bool
	// Public calls are sent unsigned and never trigger a clock sync.
	Public bool
}

// Response is a successful (or degraded) venue reply.
type Response struct {
	Status   int
	Header   http.Header
	Result   json.RawMessage
	Meta     json.RawMessage
	Attempts int

	// Degraded marks the empty result returned for a failed GET.
	Degraded bool
	Cause    error
}

// Decode unmarshals the result into v. Degraded responses leave v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || r.Degraded || len(r.Result) == 0 || string(r.Result) == "null" {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// Dispatcher sends signed requests for one credential and retries expired
// signatures with a fresh timestamp and signature each time.
type Dispatcher struct {
	cred    common.Credential
	cfg     Config
	signer  Signer
	clock   *common.ClockSkew
	limiter *common.RateLimiter
	http    *http.Client
	gate    common.SessionGate
	metrics *Metrics
	logger  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher validates cred and builds a dispatcher around clock.
func NewDispatcher(cred common.Credential, cfg Config, clock *common.ClockSkew, logger zerolog.Logger) (*Dispatcher, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		return nil, errors.New("delta: clock is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	logger = logger.With().Str("component", "dispatcher").Str("api_key", cred.KeyHint()).Logger()
	return &Dispatcher{
		cred:    cred,
		cfg:     cfg,
		signer:  NewSigner(cred.Secret),
		clock:   clock,
		limiter: common.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger),
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: NewMetrics(nil, ""),
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// SetGate wires the session check used for gated calls.
func (d *Dispatcher) SetGate(g common.SessionGate) { d.gate = g }

// SetMetrics replaces the unregistered default collectors.
func (d *Dispatcher) SetMetrics(m *Metrics) {
	if m != nil {
		d.metrics = m
	}
}

// SetHTTPClient overrides the HTTP client.
func (d *Dispatcher) SetHTTPClient(c *http.Client) {
	if c != nil {
		d.http = c
	}
}

// Clock returns the estimator this dispatcher signs with.
func (d *Dispatcher) Clock() *common.ClockSkew { return d.clock }

// Do executes call. Expired signatures are retried up to MaxRetries times,
// every attempt re-signed; all other failures end the loop at once.
func (d *Dispatcher) Do(ctx context.Context, call Call) (*Response, error) {
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	path := CanonicalPath(call.Path)
	if len(call.Query) > 0 {
		path += "?" + call.Query.Encode()
	}

	if call.RequiresActiveSession && d.gate != nil {
		if err := d.gate.Require(); err != nil {
			d.metrics.requests.WithLabelValues(method, string(common.KindSessionInactive)).Inc()
			return nil, err
		}
	}

	var body []byte
	if call.Body != nil {
		b, err := json.Marshal(call.Body)
		if err != nil {
			return nil, fmt.Errorf("delta: encode %s %s body: %w", method, path, err)
		}
		body = b
	}

	if !call.Public {
		d.clock.MaybeSync(ctx)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = d.cfg.MaxDelay
	bo.Reset()

	var err error
	for attempt := 0; ; attempt++ {
		var resp *Response
		resp, err = d.send(ctx, method, path, body, attempt, call.Public)
		if err == nil {
			resp.Attempts = attempt + 1
			d.metrics.requests.WithLabelValues(method, "ok").Inc()
			return resp, nil
		}
		if !common.Retryable(err) {
			break
		}
		if attempt >= d.cfg.MaxRetries {
			err = &common.RetriesExhaustedError{
				Method:           method,
				Path:             path,
				Attempts:         attempt + 1,
				OffsetSeconds:    d.clock.Offset(),
				LastDetectedSkew: d.clock.LastDetectedSkew(),
				Last:             err,
			}
			d.metrics.exhausted.Inc()
			d.logger.Error().Err(err).Int("attempts", attempt+1).Msg("signature retries exhausted")
			break
		}

		delay := bo.NextBackOff()
		d.metrics.retries.Inc()
		d.logger.Warn().
			Str("method", method).
			Str("path", path).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Int64("offset", d.clock.Offset()).
			Msg("signature expired, re-signing")
		if serr := d.sleep(ctx, delay); serr != nil {
			err = common.NewVenueError(common.ErrVenue, method, path, 0, "", "", serr)
			break
		}
	}

	d.metrics.requests.WithLabelValues(method, string(common.KindOf(err))).Inc()
	if method == http.MethodGet && !call.Strict && degradable(ctx, err) {
		d.metrics.degraded.WithLabelValues(call.Path).Inc()
		d.logger.Warn().Err(err).Str("path", path).Msg("read degraded to empty result")
		return &Response{Degraded: true, Cause: err}, nil
	}
	return nil, err
}

// send performs a single signed attempt.
func (d *Dispatcher) send(ctx context.Context, method, path string, body []byte, attempt int, public bool) (*Response, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, common.NewVenueError(common.ErrVenue, method, path, 0, "", "", err)
	}

	local := d.clock.Now()
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.cred.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("delta: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	if !public {
		signed := d.signer.Request(method, d.clock.Timestamp(attempt), path, string(body))
		req.Header.Set("api-key", d.cred.Key)
		req.Header.Set("timestamp", strconv.FormatInt(signed.Timestamp, 10))
		req.Header.Set("signature", signed.Signature)
		d.logger.Debug().Str("method", method).Str("path", path).Int("attempt", attempt).Int64("timestamp", signed.Timestamp).Msg("dispatch")
	}

	start := time.Now()
	res, err := d.http.Do(req)
	d.metrics.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, common.NewVenueError(common.ErrVenue, method, path, 0, "", "", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, common.NewVenueError(common.ErrVenue, method, path, res.StatusCode, "", "read body", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	serverTime, requestTime := int64(0), int64(0)
	if env.Error != nil {
		serverTime = unixSeconds(env.Error.Context.ServerTime.IntPart())
		requestTime = unixSeconds(env.Error.Context.RequestTime.IntPart())
	}
	if serverTime == 0 && !d.cfg.IgnoreDateHeader {
		if t, perr := http.ParseTime(res.Header.Get("Date")); perr == nil {
			d.clock.Observe(t.Unix(), local)
		}
	}
	defer func() { d.metrics.clockOffset.Set(float64(d.clock.Offset())) }()

	if res.StatusCode == http.StatusTooManyRequests {
		d.limiter.Throttled(res.Header.Get("X-RATE-LIMIT-RESET"))
	}

	if res.StatusCode >= 200 && res.StatusCode < 300 && (decodeErr != nil || env.Success || env.Error == nil) {
		resp := &Response{Status: res.StatusCode, Header: res.Header, Result: env.Result, Meta: env.Meta}
		if decodeErr != nil || (!env.Success && len(env.Result) == 0) {
			resp.Result = data
		}
		return resp, nil
	}

	code, msg := "", http.StatusText(res.StatusCode)
	if env.Error != nil {
		code, msg = env.Error.Code, env.Error.Message
	} else if decodeErr != nil && len(data) > 0 {
		msg = truncate(string(data), 256)
	}
	ve := common.NewVenueError(classify(res.StatusCode, code), method, path, res.StatusCode, code, msg, nil)
	ve.RequestTime, ve.ServerTime = requestTime, serverTime
	if code == codeExpiredSignature && serverTime > 0 {
		d.clock.ObserveExpiry(requestTime, serverTime, local)
	}
	return nil, ve
}

func classify(status int, code string) error {
	switch {
	case code == codeExpiredSignature:
		return common.ErrSignatureExpired
	case authErrorCodes[code]:
		return common.ErrAuthenticationRejected
	case code == "" && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		return common.ErrAuthenticationRejected
	default:
		return common.ErrVenue
	}
}

func degradable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return common.KindOf(err) == common.KindNetworkOrVenue
}

// unixSeconds normalises second, millisecond and microsecond timestamps.
func unixSeconds(v int64) int64 {
	for v > 100_000_000_000 {
		v /= 1000
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Meta    json.RawMessage `json:"meta"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Context struct {
		RequestTime decimal.Decimal `json:"request_time"`
		ServerTime  decimal.Decimal `json:"server_time"`
	} `json:"context"`
}
