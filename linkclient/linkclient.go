package linkclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"satslink/util"
)

const (
	CALL_QUERY  = "query"
	CALL_UPDATE = "call"

	DEFAULT_TIMEOUT    = 30 * time.Second
	DEFAULT_RATE_LIMIT = 20
	DEFAULT_RATE_BURST = 5

	maxReplySize = 16 << 20
)

// Recorder receives one observation per gateway call
type Recorder interface {
	ObserveCall(canister, method, outcome string, seconds float64)
}

type Config struct {
	Endpoints []string
	Timeout   time.Duration
	RateLimit rate.Limit
	RateBurst int
	Recorder  Recorder
}

// LinkClient forwards canister calls over the JSON gateway. The first endpoint
// is the primary; when the current endpoint fails the remaining ones are
// tried in order and the first that answers becomes current.
type LinkClient struct {
	endpoints []string
	current   int

	IsPrimary bool
	lock      sync.RWMutex

	httpClient *http.Client
	limiter    *rate.Limiter
	recorder   Recorder
}

// RejectError is a call the canister (or gateway) rejected. Rejections are
// final and do not cause failover.
type RejectError struct {
	Code    int
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("canister rejected call (%d): %s", e.Code, e.Message)
}

type callEnvelope struct {
	Args interface{} `json:"args"`
}

type replyEnvelope struct {
	Reply         json.RawMessage `json:"reply"`
	RejectCode    *int            `json:"reject_code"`
	RejectMessage string          `json:"reject_message"`
}

func New(cfg Config) (*LinkClient, error) {

	if cfg.Timeout == 0 {
		cfg.Timeout = DEFAULT_TIMEOUT
	}

	if cfg.RateLimit == 0 {
		cfg.RateLimit = DEFAULT_RATE_LIMIT
	}

	if cfg.RateBurst == 0 {
		cfg.RateBurst = DEFAULT_RATE_BURST
	}

	lc := &LinkClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		recorder:   cfg.Recorder,
	}

	if err := lc.SetEndpoints(cfg.Endpoints); err != nil {
		return nil, err
	}

	return lc, nil
}

// SetEndpoints replaces the endpoint list and switches back to the primary
func (lc *LinkClient) SetEndpoints(endpoints []string) error {

	cleaned := make([]string, 0, len(endpoints))
	seen := make(map[string]bool)

	for _, e := range endpoints {
		e = util.NormalizeEndpoint(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		cleaned = append(cleaned, e)
	}

	if len(cleaned) == 0 {
		return errors.New("No gateway endpoints configured")
	}

	lc.lock.Lock()
	defer lc.lock.Unlock()

	lc.endpoints = cleaned
	lc.current = 0
	lc.IsPrimary = true

	return nil
}

func (lc *LinkClient) Endpoints() []string {
	lc.lock.RLock()
	defer lc.lock.RUnlock()

	out := make([]string, len(lc.endpoints))
	copy(out, lc.endpoints)

	return out
}

func (lc *LinkClient) Current() string {
	lc.lock.RLock()
	defer lc.lock.RUnlock()

	return lc.endpoints[lc.current]
}

func (lc *LinkClient) UsePrimary() {
	lc.lock.Lock()
	defer lc.lock.Unlock()

	lc.current = 0
	lc.IsPrimary = true
}

// UseBackup moves to the next endpoint, wrapping around
func (lc *LinkClient) UseBackup() {
	lc.lock.Lock()
	defer lc.lock.Unlock()

	lc.current = (lc.current + 1) % len(lc.endpoints)
	lc.IsPrimary = lc.current == 0
}

// rotation returns the endpoints starting at the current one
func (lc *LinkClient) rotation() []string {
	lc.lock.RLock()
	defer lc.lock.RUnlock()

	out := make([]string, 0, len(lc.endpoints))
	out = append(out, lc.endpoints[lc.current:]...)
	out = append(out, lc.endpoints[:lc.current]...)

	return out
}

func (lc *LinkClient) use(endpoint string) {
	lc.lock.Lock()
	defer lc.lock.Unlock()

	for i, e := range lc.endpoints {
		if e == endpoint {
			lc.current = i
			lc.IsPrimary = i == 0
			return
		}
	}
}

func (lc *LinkClient) Query(ctx context.Context, agent *Agent, canister, method string, args, out interface{}) error {
	return lc.call(ctx, agent, CALL_QUERY, canister, method, args, out)
}

func (lc *LinkClient) Update(ctx context.Context, agent *Agent, canister, method string, args, out interface{}) error {
	return lc.call(ctx, agent, CALL_UPDATE, canister, method, args, out)
}

func (lc *LinkClient) call(ctx context.Context, agent *Agent, kind, canister, method string, args, out interface{}) error {

	if agent == nil {
		agent = AnonymousAgent()
	}

	body, err := json.Marshal(callEnvelope{Args: args})
	if err != nil {
		return errors.Wrapf(err, "Unable to encode %s arguments", method)
	}

	if err := lc.limiter.Wait(ctx); err != nil {
		return util.WrapErr(util.ErrNetwork, err, "Rate limiter")
	}

	start := time.Now()

	var lastErr error

	for i, endpoint := range lc.rotation() {

		reply, err := lc.post(ctx, endpoint, agent, kind, canister, method, body)
		if err == nil {

			if i > 0 {
				log.WithField("Endpoint", endpoint).Warn("Switched gateway endpoint")
				lc.use(endpoint)
			}

			lc.observe(canister, method, "ok", start)

			if out == nil || len(reply) == 0 {
				return nil
			}

			if err := json.Unmarshal(reply, out); err != nil {
				return util.WrapErr(util.ErrNetwork, err, fmt.Sprintf("Unable to decode %s reply", method))
			}

			return nil
		}

		var reject *RejectError
		if errors.As(err, &reject) {
			lc.observe(canister, method, "reject", start)
			return util.WrapErr(util.ErrNetwork, err, method)
		}

		lastErr = err

		log.WithError(err).WithFields(log.Fields{
			"Endpoint": endpoint, "Method": method,
		}).Warn("Gateway call failed")

		if ctx.Err() != nil {
			break
		}
	}

	lc.observe(canister, method, "error", start)

	return util.WrapErr(util.ErrNetwork, lastErr, fmt.Sprintf("Unable to call %s", method))
}

func (lc *LinkClient) post(ctx context.Context, endpoint string, agent *Agent, kind, canister, method string, body []byte) (json.RawMessage, error) {

	url := fmt.Sprintf("%s/api/v2/canister/%s/%s/%s", endpoint, canister, kind, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "Unable to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sender", agent.Sender.String())

	if agent.Token != "" {
		req.Header.Set("Authorization", "Bearer "+agent.Token)
	}

	resp, err := lc.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to reach gateway")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, errors.Wrap(err, "Unable to read gateway reply")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Errorf("gateway returned %s", resp.Status)
	}

	var env replyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrapf(err, "gateway returned %s with malformed body", resp.Status)
	}

	if env.RejectCode != nil {
		return nil, &RejectError{Code: *env.RejectCode, Message: env.RejectMessage}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("gateway returned %s", resp.Status)
	}

	return env.Reply, nil
}

func (lc *LinkClient) observe(canister, method, outcome string, start time.Time) {
	if lc.recorder == nil {
		return
	}

	lc.recorder.ObserveCall(canister, method, outcome, time.Since(start).Seconds())
}
