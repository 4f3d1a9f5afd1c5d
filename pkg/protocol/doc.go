// Package protocol defines the wire messages exchanged between clients and
// the relay server, and the codecs that put them on a websocket.
//
// Every exchange is a single Message: a kind plus an optional typed payload.
// Two codecs implement the same message set:
//
//   - JSONCodec sends text frames shaped {"msgType": "...", "data": {...}}.
//     It is the default and the easiest to debug.
//   - BinaryCodec sends compact binary frames (tag byte + varint/length
//     prefixed payload). It exists for bandwidth-sensitive deployments and
//     is selected by configuration at startup.
//
// The codec choice is static per deployment. Both sides of a connection must
// agree on it; there is no in-band negotiation.
package protocol
