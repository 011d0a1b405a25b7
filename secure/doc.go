// Package secure hardens the session store for sessions reachable from
// untrusted clients.
//
// It adds four things on top of store.Store:
//
//   - Codec seals session payloads with XChaCha20-Poly1305 before they reach
//     Redis or the durable tier. Keys come from a Keyring built from
//     configured secrets and can be rotated without losing old data.
//   - Sessions are bound to the client that created them. The client is
//     passed in the context with WithClient. A different user agent revokes
//     the session at once; address changes are tolerated up to a limit.
//   - Each owner may hold a bounded number of ACTIVE sessions. Creating one
//     more abandons and revokes the oldest.
//   - A RevocationList, in Redis or in memory, is checked before every read.
package secure
