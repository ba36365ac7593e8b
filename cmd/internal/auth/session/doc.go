// Package session implements the blog API session lifecycle.
//
// Login issues an access token and a device-bound refresh token and opens a
// device session. RefreshToken rotates the pair through the token ledger, so a
// refresh token works exactly once. Logout and device termination remove the
// ledger entry and deactivate the device session.
//
// Access tokens are verified statelessly by the HTTP gate; this package only
// consults the ledger and the device store for refresh-token operations.
package session
