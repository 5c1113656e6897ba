// Package auth provides an authenticated HTTP request pipeline, which
// attaches and refreshes credentials and classifies failures, plus a
// route access controller for role gated navigation.
//
// Session ownership:
//   - Session is an explicitly owned state object. TokenProvider is its only
//     writer; Transport and RouteAccessController read it through the
//     provider. Call TokenProvider.Initialize once at startup and wait on
//     Ready before serving guarded navigation.
//
// Token refresh:
//   - GetToken returns the current token while it is valid for at least
//     Config.MinValidity. Expiring tokens are refreshed first; concurrent
//     callers of the same token generation share one refresh. A failed
//     refresh clears the session and yields an empty token.
//
// Request pipeline:
//   - Transport runs RequestStage and ResponseStage functions in order for
//     each attempt. BearerStage attaches the credential unless the target is
//     excluded. Classify maps failures into ErrorKind values. Retryable
//     failures are retried up to Config.MaxRetries times (once when unset,
//     never with Config.DisableRetry); 4xx never are.
//
// Route guard:
//   - RouteAccessController.CanActivate resolves to a Decision and a
//     navigation side effect, performed through the Navigator stored in the
//     context with WithNavigator. Server adapters use RedirectRecorder.
//
// Session sinks:
//   - SessionSink receives SessionEventSynced and SessionEventCleared. Sinks
//     run best-effort (errors are logged).
package auth
