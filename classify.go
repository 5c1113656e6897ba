package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
)

const maxErrorBody = 1 << 20

// Classify converts a transport result into the failure taxonomy. It
// returns nil for successful responses. The response body of a
// validation failure is read and restored so callers can still consume it.
func Classify(resp *http.Response, err error) *ClassifiedError {
	if err != nil {
		return classifyTransportError(err)
	}
	if resp == nil {
		return newClassifiedError(KindNetwork, 0, "", nil)
	}

	status := resp.StatusCode
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusBadRequest:
		return classifyValidation(resp)
	case status == http.StatusUnauthorized:
		return newClassifiedError(KindAuthentication, status, "", nil)
	case status == http.StatusForbidden:
		return newClassifiedError(KindAuthorization, status, "", nil)
	case status == http.StatusNotFound:
		return newClassifiedError(KindNotFound, status, "", nil)
	case status == http.StatusRequestTimeout:
		return newClassifiedError(KindTimeout, status, "", nil)
	case status >= http.StatusInternalServerError:
		return newClassifiedError(KindServer, status, "", nil)
	default:
		return newClassifiedError(KindUnknown, status, "", nil)
	}
}

func classifyTransportError(err error) *ClassifiedError {
	if ce, ok := AsClassified(err); ok {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newClassifiedError(KindTimeout, 0, "", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newClassifiedError(KindTimeout, 0, "", err)
	}

	if errors.Is(err, context.Canceled) {
		return newClassifiedError(KindUnknown, 0, "Request was cancelled", err)
	}

	return newClassifiedError(KindNetwork, 0, "", err)
}

type validationBody struct {
	Message     string                     `json:"message"`
	Errors      map[string]json.RawMessage `json:"errors"`
	FieldErrors map[string]json.RawMessage `json:"fieldErrors"`
}

func classifyValidation(resp *http.Response) *ClassifiedError {
	ce := newClassifiedError(KindValidation, resp.StatusCode, "", nil)
	if resp.Body == nil {
		return ce
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil || len(raw) == 0 {
		return ce
	}

	var body validationBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ce
	}

	fields := body.FieldErrors
	if len(fields) == 0 {
		fields = body.Errors
	}

	fieldErrors := make(map[string]string, len(fields))
	for field, value := range fields {
		if msg := firstMessage(value); msg != "" {
			fieldErrors[field] = msg
		}
	}

	if len(fieldErrors) > 0 {
		ce.FieldErrors = fieldErrors
		names := make([]string, 0, len(fieldErrors))
		for name := range fieldErrors {
			names = append(names, name)
		}
		sort.Strings(names)
		ce.Message = fieldErrors[names[0]]
		return ce
	}

	if msg := strings.TrimSpace(body.Message); msg != "" {
		ce.Message = msg
	}
	return ce
}

func firstMessage(raw json.RawMessage) string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, msg := range many {
			if msg = strings.TrimSpace(msg); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// retryAllowed reports whether a classified failure may be retried
// automatically. Client errors are never retried.
func retryAllowed(ce *ClassifiedError) bool {
	if ce == nil || !ce.Retryable {
		return false
	}
	if ce.HTTPStatus >= 400 && ce.HTTPStatus <= 499 {
		return false
	}
	return true
}
