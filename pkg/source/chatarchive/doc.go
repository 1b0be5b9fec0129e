// Package chatarchive is the source adapter for chat-archive export
// servers. It speaks the archive's JSON HTTP API with bearer token auth,
// converts messages into catalog items keyed by message id, and exposes
// the NDJSON update feed as a live item stream.
//
// Message ids are the unit markers: listings run newest first and page
// with before_id, so an incremental scan stops as soon as it reaches the
// previous run's high-water mark.
package chatarchive
