// Package remote talks to the authoritative collection API.
//
// Every request carries a bearer token obtained from an auth.Guard. A 401 response is reported
// as auth.ErrAuthExpired and retried exactly once after the guard refreshed the token, so a
// burst of concurrent 401s costs a single refresh.
//
// # Response envelope
//
// Collection endpoints answer with
//
//	{"data": [...], "paging": {"cursors": {"after": "c1"}}}
//
// The after token is empty on the last page. Offset endpoints take skip and top query
// parameters and signal the end with a short page. Cursor and Offset adapt both styles to
// reconcile pagers.
//
// # Errors
//
//   - 401 wraps auth.ErrAuthExpired.
//   - Transport failures, 429 and 5xx wrap auth.ErrNetwork.
//   - Any other non-2xx status is a *StatusError.
package remote
