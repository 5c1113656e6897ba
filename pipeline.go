package auth

import (
	"context"
	"net/http"
	"time"
)

// Exchange carries per request state through the pipeline stages.
type Exchange struct {
	Context     context.Context
	RequestID   string
	Attempt     int
	Excluded    bool
	Started     time.Time
	CurrentPath string
}

// Outcome is the result of one dispatch attempt as seen by the response
// stages.
type Outcome struct {
	Response *http.Response
	Err      error
	Failure  *ClassifiedError
	Retry    bool
}

// RequestStage transforms an outgoing request. Stages must not mutate the
// request they are given; return a clone instead.
type RequestStage func(req *http.Request, ex *Exchange) (*http.Request, error)

// ResponseStage inspects an outcome and returns the outcome passed to the
// next stage.
type ResponseStage func(out *Outcome, ex *Exchange) *Outcome

// Pipeline is an ordered set of request and response stages.
type Pipeline struct {
	Request  []RequestStage
	Response []ResponseStage
}

// PrepareRequest runs the request stages in order.
func (p Pipeline) PrepareRequest(req *http.Request, ex *Exchange) (*http.Request, error) {
	var err error
	for _, stage := range p.Request {
		if stage == nil {
			continue
		}
		req, err = stage(req, ex)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

// HandleOutcome runs the response stages in order.
func (p Pipeline) HandleOutcome(out *Outcome, ex *Exchange) *Outcome {
	for _, stage := range p.Response {
		if stage == nil {
			continue
		}
		out = stage(out, ex)
	}
	return out
}
