// Package signature authenticates inbound webhook deliveries before any of
// their content is trusted.
//
// Two schemes are supported:
//
//   - PushAuthenticator accepts provider push notifications carrying either a
//     shared token in the "token" query parameter or a Google-signed OIDC
//     bearer token whose audience and service account email match the
//     configured values.
//   - HMACVerifier checks a per-trigger HMAC signature over the raw request
//     body for generic webhook triggers. The signature header takes the form
//     "sha256=<hex>" or a bare hex digest. When a timestamp header is present it
//     is signed as "<timestamp>.<body>" and must be within the tolerance.
//
// Both return a *VerificationError on failure; callers map it to 401 without
// recording a trigger event.
package signature
