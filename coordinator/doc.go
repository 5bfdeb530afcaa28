// Package coordinator keeps every browser tab of one session converged on a
// single refresh schedule. One Coordinator runs per tab; the tabs elect a
// leader over a shared broadcast channel, the leader alone refreshes ahead of
// expiry, and followers apply the broadcast outcome.
//
// The channel is abstracted behind [Bus] so the election logic runs unchanged
// over the in-process [MemoryBus] in tests and over [RedisBus] when
// coordinating across processes. A Coordinator owns all of its state; nothing
// in this package is a singleton, so any number of instances can share one
// bus inside a single test.
//
// # What this package must NOT do
//
//   - Retry a rejected refresh. Rejection is terminal for the credential; the
//     only recovery is re-authentication through the OnSignedOut seam.
//   - Touch the refresh credential. It lives in an HTTP-only cookie jar that
//     the Refresher carries opaquely.
package coordinator
