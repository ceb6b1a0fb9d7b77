// Package transport is the client-side protocol engine for a gateway
// connection: one live, resumable channel multiplexing many conversation
// sessions.
//
// The pieces, leaf first: the idempotency Registry makes message submission
// safe under retries; per-session sequence trackers detect lost events and
// surface them as explicit seqGap events instead of silent corruption; the
// Demux fans the inbound feed out to subscribers in arrival order; the Conn
// owns the websocket, request/response correlation and the reconnect loop;
// and Client composes them behind the Transport contract.
//
// Ordering rests on per-session sequence numbers, not on the channel: after
// any reconnect, callers re-baseline sessions with RequestHistory and the
// trackers resume validating from the fresh baseline.
package transport
