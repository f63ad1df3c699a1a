// Package delivery performs the one-shot test delivery of a NewsML document
// to an integrator's HTTPS endpoint and classifies the outcome.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"integrator/metrics"
	"integrator/models"
	"integrator/newsml"
	"integrator/tools"
	"integrator/version"
)

const (
	DefaultTimeout      = 12 * time.Second
	DefaultProviderID   = "wire.fundamentals.so"
	DefaultProviderName = "Fundamentals Wire"
	DefaultUserAgent    = "FundamentalsWireHTTPSPushTest/1.0"

	maxSnippet     = 300
	maxErrorDetail = 200
	maxBodyRead    = 64 << 10
)

type Outcome string

const (
	OutcomeDelivered   Outcome = "delivered"
	OutcomeRejected    Outcome = "rejected"
	OutcomeTimedOut    Outcome = "timeout"
	OutcomeUnreachable Outcome = "unreachable"
)

// allowedHeaders are the only response headers echoed back and audited.
var allowedHeaders = []string{
	"content-type",
	"content-length",
	"server",
	"date",
	"cf-ray",
	"x-vercel-id",
	"x-vercel-cache",
}

// Recorder receives the audit record of every attempt.
type Recorder interface {
	Record(ctx context.Context, attempt *models.DeliveryAttempt)
}

type Dispatcher struct {
	Client       *http.Client
	Timeout      time.Duration
	ProviderID   string
	ProviderName string
	UserAgent    string
	Recorder     Recorder
	Now          func() time.Time
}

func NewDispatcher(client *http.Client, timeout time.Duration, recorder Recorder) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		Client:       client,
		Timeout:      timeout,
		ProviderID:   DefaultProviderID,
		ProviderName: DefaultProviderName,
		UserAgent:    DefaultUserAgent,
		Recorder:     recorder,
		Now:          time.Now,
	}
}

// Result is what the caller sees about the attempt.
type Result struct {
	Attempted       bool              `json:"attempted"`
	Delivered       *bool             `json:"delivered"`
	Endpoint        string            `json:"endpoint"`
	HTTPStatus      *int              `json:"http_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseSnippet *string           `json:"response_snippet,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorDetail     string            `json:"error_detail,omitempty"`
	TimeoutMS       int64             `json:"timeout_ms"`
	SentBytes       int               `json:"sent_bytes"`
	NewsItemID      string            `json:"newsml_news_item_id"`
	Outcome         Outcome           `json:"-"`
}

// Dispatch sends one test document to req's endpoint. It never returns an
// error: every failure is folded into the Result. The caller's cancellation
// does not cut the attempt short; only the dispatcher timeout does.
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.IntegratorRequest, requestID *string) Result {
	now := d.now()
	newsItemID := fmt.Sprintf("test-%d", now.UnixMilli())
	if requestID != nil && *requestID != "" {
		newsItemID = *requestID
	}

	endpoint := ""
	if req.EndpointURL != nil {
		endpoint = *req.EndpointURL
	}

	res := Result{
		Attempted:  true,
		Delivered:  tools.BoolPtr(false),
		Endpoint:   endpoint,
		TimeoutMS:  d.Timeout.Milliseconds(),
		NewsItemID: newsItemID,
	}

	doc, err := newsml.Build(newsml.Item{
		ProviderID:     d.ProviderID,
		ProviderName:   d.ProviderName,
		Created:        now,
		NewsItemID:     newsItemID,
		HandlerVersion: version.HandlerVersion,
	})
	if err != nil {
		// no request was sent
		res.Outcome = OutcomeUnreachable
		res.Error = models.DELIVERY_ERR_UNREACHABLE
		res.ErrorDetail = tools.Truncate(err.Error(), maxErrorDetail)
		d.record(ctx, req, requestID, res)
		return res
	}
	res.SentBytes = len(doc)

	started := time.Now()
	d.send(ctx, &res, doc, requestID)
	metrics.DeliveryDuration.Observe(time.Since(started).Seconds())
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(res.Outcome)).Inc()

	d.record(ctx, req, requestID, res)
	return res
}

func (d *Dispatcher) send(parent context.Context, res *Result, doc string, requestID *string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, res.Endpoint, bytes.NewReader([]byte(doc)))
	if err != nil {
		res.Outcome = OutcomeUnreachable
		res.Error = models.DELIVERY_ERR_UNREACHABLE
		res.ErrorDetail = tools.Truncate(err.Error(), maxErrorDetail)
		return
	}

	rid := ""
	if requestID != nil {
		rid = *requestID
	}
	httpReq.Header.Set("Content-Type", "application/xml; charset=utf-8")
	httpReq.Header.Set("User-Agent", d.UserAgent)
	httpReq.Header.Set(version.Header, version.HandlerVersion)
	httpReq.Header.Set("X-Fw-Delivery", "1")
	httpReq.Header.Set("X-Fw-Delivery-Env", models.DELIVERY_ENV_TEST)
	httpReq.Header.Set("X-Fw-Request-Id", rid)

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			res.Outcome = OutcomeTimedOut
			res.Error = models.DELIVERY_ERR_TIMEOUT
		} else {
			res.Outcome = OutcomeUnreachable
			res.Error = models.DELIVERY_ERR_UNREACHABLE
		}
		res.ErrorDetail = tools.Truncate(err.Error(), maxErrorDetail)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	snippet := tools.Truncate(string(body), maxSnippet)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	res.Delivered = tools.BoolPtr(ok)
	res.HTTPStatus = tools.IntPtr(resp.StatusCode)
	res.ResponseHeaders = PickHeaders(resp.Header)
	res.ResponseSnippet = &snippet

	if ok {
		res.Outcome = OutcomeDelivered
		return
	}
	res.Outcome = OutcomeRejected
	res.Error = models.DELIVERY_ERR_REJECTED
	res.ErrorDetail = fmt.Sprintf("http_status=%d", resp.StatusCode)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// PickHeaders copies the allow-listed headers, lower-cased.
func PickHeaders(h http.Header) map[string]string {
	out := map[string]string{}
	for _, k := range allowedHeaders {
		if v := strings.TrimSpace(h.Get(k)); v != "" {
			out[k] = v
		}
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, req *models.IntegratorRequest, requestID *string, res Result) {
	if d.Recorder == nil {
		return
	}

	attempt := &models.DeliveryAttempt{
		RequestID:       requestID,
		DeliveryEnv:     req.DeliveryEnv,
		EndpointURL:     tools.StringPtr(res.Endpoint),
		Attempted:       res.Attempted,
		Delivered:       res.Delivered,
		HTTPStatus:      res.HTTPStatus,
		ResponseSnippet: res.ResponseSnippet,
		Error:           tools.StringPtr(res.Error),
		ErrorDetail:     tools.StringPtr(res.ErrorDetail),
		TimeoutMS:       &res.TimeoutMS,
		SentBytes:       &res.SentBytes,
		NewsItemID:      tools.StringPtr(res.NewsItemID),
		HandlerVersion:  version.HandlerVersion,
		CreatedAt:       time.Now().UTC(),
	}
	if len(res.ResponseHeaders) > 0 {
		attempt.ResponseHeaders = res.ResponseHeaders
	}

	d.Recorder.Record(ctx, attempt)
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
