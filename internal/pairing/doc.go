// Package pairing turns user-supplied Tailscale credentials into a stored
// entity.
//
// The flow mirrors what a pairing UI needs:
//
//  1. Validate the tailnet ID and API key against the live API.
//  2. ListCandidates to offer either the whole tailnet or one of its devices.
//  3. Pair the chosen candidate, which validates again, persists the entity
//     and hands it to the OnPaired hook (normally the supervisor, which
//     starts its poller).
//
// Credentials are only stored after a successful validation.
package pairing
