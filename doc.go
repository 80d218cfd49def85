// Package auth implements the authentication, session, and subscription
// access control core for a multi-tenant CRM backend.
//
// Sessions and tokens:
//   - TokenService signs and validates HS256 JWTs carrying identity and
//     subscription claims. Session lifetime is fixed at issue time; an
//     extended lifetime is available for remember-me flows.
//   - Password resets advance the account's sessions_valid_after watermark,
//     invalidating every token issued before it without server-side session
//     state.
//
// Account lifecycle:
//   - Users carry a persistent UserStatus (pending, active, suspended,
//     deactivated) managed by LifecycleMachine, plus a transient lockout
//     derived from LockedUntil after repeated failed logins.
//   - Auther drives the login sequence with a fixed check order and a dummy
//     hash comparison on unknown emails so response timing does not reveal
//     whether an address is registered.
//
// Single-use credentials:
//   - ActionTokens issues and atomically consumes email verification and
//     password reset tokens. Issuing a new token voids pending siblings for
//     the same user and purpose, and consumption is a single conditional
//     UPDATE so a token can never grant access twice.
//
// Subscription gate:
//   - TierGate authorizes operations by tier set membership against the live
//     account record, distinguishing an expired trial from an insufficient
//     plan so callers can render the right upsell.
//
// Federation lives in the social subpackage; per-route enforcement in
// middleware/tierware.
package auth
