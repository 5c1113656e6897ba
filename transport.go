package auth

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-auth-pipeline"

// TransportOption customizes Transport construction.
type TransportOption func(*Transport)

// WithTransportBase sets the round tripper that performs the dispatch.
func WithTransportBase(base http.RoundTripper) TransportOption {
	return func(t *Transport) {
		if base != nil {
			t.base = base
		}
	}
}

// WithTransportLogger overrides the logger.
func WithTransportLogger(logger Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = NewRedactingLogger(logger)
		}
	}
}

// WithTransportMetrics records retries, failures, and durations.
func WithTransportMetrics(m *Metrics) TransportOption {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithTransportTracer overrides the tracer.
func WithTransportTracer(tracer trace.Tracer) TransportOption {
	return func(t *Transport) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// WithTransportFlagStore sets the store the return target is stashed in
// when a request fails authentication.
func WithTransportFlagStore(store FlagStore) TransportOption {
	return func(t *Transport) {
		t.flags = normalizeFlagStore(store)
	}
}

// WithTransportStages appends custom stages after the built in ones.
func WithTransportStages(request []RequestStage, response []ResponseStage) TransportOption {
	return func(t *Transport) {
		t.extraRequest = append(t.extraRequest, request...)
		t.extraResponse = append(t.extraResponse, response...)
	}
}

// WithTransportClock injects a custom clock (useful for tests).
func WithTransportClock(clock func() time.Time) TransportOption {
	return func(t *Transport) {
		if clock != nil {
			t.now = clock
		}
	}
}

// Transport is an http.RoundTripper that runs every request through the
// augment, dispatch, and classify stages in sequence, retrying eligible
// failures. HTTP error responses are returned as responses; failures
// without a response are returned as *ClassifiedError.
type Transport struct {
	base     http.RoundTripper
	tp       *TokenProvider
	config   Config
	matcher  *ExclusionMatcher
	pipeline Pipeline
	logger   Logger
	metrics  *Metrics
	tracer   trace.Tracer
	flags    FlagStore
	now      func() time.Time

	extraRequest  []RequestStage
	extraResponse []ResponseStage
}

// NewTransport builds the pipeline transport for tp.
func NewTransport(tp *TokenProvider, opts ...TransportOption) (*Transport, error) {
	cfg := tp.Config().WithDefaults()
	matcher, err := NewExclusionMatcherFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		base:    http.DefaultTransport,
		tp:      tp,
		config:  cfg,
		matcher: matcher,
		logger:  tp.logger,
		metrics: tp.metrics,
		tracer:  otel.Tracer(tracerName),
		flags:   tp.flags,
		now:     time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	t.pipeline = Pipeline{
		Request: append([]RequestStage{
			RequestIDStage(),
			BearerStage(tp, matcher),
		}, t.extraRequest...),
		Response: append([]ResponseStage{
			t.retryStage,
			t.loginRedirectStage,
			t.observeStage,
		}, t.extraResponse...),
	}

	return t, nil
}

// Pipeline returns the composed stages.
func (t *Transport) Pipeline() Pipeline {
	return t.pipeline
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	started := t.now()

	ex := &Exchange{
		Context:     ctx,
		RequestID:   req.Header.Get(HeaderRequestID),
		Started:     started,
		CurrentPath: CurrentPath(ctx),
	}
	if ex.RequestID == "" {
		ex.RequestID = uuid.NewString()
	}

	ctx, span := t.tracer.Start(ctx, "authpipe.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.URL.Path),
			attribute.String("authpipe.request_id", ex.RequestID),
		),
	)
	defer span.End()

	overallCtx, overallCancel := context.WithTimeout(ctx, t.config.OverallTimeout)

	for attempt := 0; ; attempt++ {
		ex.Attempt = attempt + 1

		attemptCtx, attemptCancel := context.WithTimeout(overallCtx, t.config.RequestTimeout)
		cancel := func() {
			attemptCancel()
			overallCancel()
		}

		out := t.dispatch(attemptCtx, req, ex)

		if out.Failure == nil {
			span.SetAttributes(attribute.Int("authpipe.attempts", ex.Attempt))
			span.SetStatus(codes.Ok, "")
			t.metrics.observeRequest(req.Method, "success", t.now().Sub(started))
			out.Response.Body = cancelOnClose(out.Response.Body, cancel)
			return out.Response, nil
		}

		if out.Retry && attempt < t.config.MaxRetries && canReplay(req, attempt+1) &&
			overallCtx.Err() == nil {
			discard(out.Response)
			attemptCancel()
			t.metrics.retry()
			t.logger.Info("retrying request",
				"request_id", ex.RequestID,
				"attempt", ex.Attempt+1,
				"kind", string(out.Failure.Kind),
			)
			continue
		}

		failure := out.Failure
		if out.Response == nil && ctx.Err() == nil && overallCtx.Err() != nil {
			failure = newClassifiedError(KindTimeout, 0, "", overallCtx.Err())
		}

		span.SetAttributes(
			attribute.Int("authpipe.attempts", ex.Attempt),
			attribute.String("authpipe.error_kind", string(failure.Kind)),
		)
		span.SetStatus(codes.Error, failure.Error())
		t.metrics.observeRequest(req.Method, string(failure.Kind), t.now().Sub(started))

		if out.Response != nil {
			out.Response.Body = cancelOnClose(out.Response.Body, cancel)
			return out.Response, nil
		}

		cancel()
		span.RecordError(failure)
		return nil, failure
	}
}

func (t *Transport) dispatch(ctx context.Context, req *http.Request, ex *Exchange) *Outcome {
	attemptReq, err := t.attemptRequest(ctx, req, ex.Attempt-1)
	if err == nil {
		attemptReq, err = t.pipeline.PrepareRequest(attemptReq, ex)
	}
	if err != nil {
		return t.pipeline.HandleOutcome(&Outcome{
			Err:     err,
			Failure: newClassifiedError(KindUnknown, 0, "", err),
		}, ex)
	}

	resp, err := t.base.RoundTrip(attemptReq)
	return t.pipeline.HandleOutcome(&Outcome{
		Response: resp,
		Err:      err,
		Failure:  Classify(resp, err),
	}, ex)
}

func (t *Transport) attemptRequest(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	out := req.Clone(ctx)
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

func (t *Transport) retryStage(out *Outcome, ex *Exchange) *Outcome {
	out.Retry = retryAllowed(out.Failure)
	if out.Retry && ex.Context.Err() != nil {
		out.Retry = false
	}
	return out
}

// loginRedirectStage sends the user agent to the login route when a
// request fails authentication, preserving the current path.
func (t *Transport) loginRedirectStage(out *Outcome, ex *Exchange) *Outcome {
	if out.Failure == nil || out.Failure.Kind != KindAuthentication {
		return out
	}

	current := ex.CurrentPath
	if current == "" {
		current = t.config.HomePath
	}

	if err := t.flags.Set(ex.Context, RedirectURLKey, current); err != nil {
		t.logger.Warn("unable to persist return target", "key", RedirectURLKey, "error", err)
	}

	navigate(ex.Context, t.logger, LoginRedirect(t.config, current))
	return out
}

func (t *Transport) observeStage(out *Outcome, ex *Exchange) *Outcome {
	if out.Failure == nil {
		return out
	}
	t.metrics.classifiedError(out.Failure.Kind)
	t.logger.Warn("request failed",
		"request_id", ex.RequestID,
		"attempt", ex.Attempt,
		"kind", string(out.Failure.Kind),
		"status", out.Failure.HTTPStatus,
		"retryable", out.Failure.Retryable,
		"error", out.Err,
	)
	return out
}

// LoginRedirect returns the login route with the return target attached.
func LoginRedirect(cfg Config, returnPath string) string {
	q := url.Values{}
	q.Set(cfg.ReturnURLParam, returnPath)
	return cfg.LoginPath + "?" + q.Encode()
}

func canReplay(req *http.Request, attempt int) bool {
	if attempt == 0 {
		return true
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func cancelOnClose(body io.ReadCloser, cancel context.CancelFunc) io.ReadCloser {
	if body == nil {
		cancel()
		return nil
	}
	return &cancelBody{ReadCloser: body, cancel: cancel}
}
