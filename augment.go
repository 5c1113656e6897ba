package auth

import (
	"net/http"
)

// HeaderRequestID is the request correlation header.
const HeaderRequestID = "X-Request-ID"

// BearerStage attaches the session credential to every request whose
// target is not excluded. A request is forwarded unchanged when it is
// excluded or when no token is available.
func BearerStage(tp *TokenProvider, matcher *ExclusionMatcher) RequestStage {
	scheme := tp.Config().AuthScheme
	return func(req *http.Request, ex *Exchange) (*http.Request, error) {
		if matcher.Excluded(req) {
			ex.Excluded = true
			return req, nil
		}

		token := tp.GetToken(req.Context())
		if token == "" {
			tp.logger.Debug("no credential available, forwarding without authorization",
				"request_id", ex.RequestID,
				"url", req.URL.Redacted(),
			)
			return req, nil
		}

		out := req.Clone(req.Context())
		out.Header.Set("Authorization", scheme+" "+token)
		return out, nil
	}
}

// RequestIDStage sets the correlation header when the caller did not.
func RequestIDStage() RequestStage {
	return func(req *http.Request, ex *Exchange) (*http.Request, error) {
		if req.Header.Get(HeaderRequestID) != "" {
			ex.RequestID = req.Header.Get(HeaderRequestID)
			return req, nil
		}
		out := req.Clone(req.Context())
		out.Header.Set(HeaderRequestID, ex.RequestID)
		return out, nil
	}
}
