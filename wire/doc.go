// Package wire implements the interchange codec for the httpcloak engine
// boundary.
//
// The engine speaks UTF-8 JSON documents in both directions:
//
//	┌──────────────────────────────────────────────────────────┐
//	│ Request ──(Encode)──> JSON ──> engine ──> JSON           │
//	│ Response/meta <──(Decode*)── JSON                        │
//	└──────────────────────────────────────────────────────────┘
//
// # Wire Shapes
//
//	request   {"method","url","headers"?,"header_order"?,"body"?,"timeout"?}
//	response  {"status_code","headers","body","final_url","protocol"}
//	fast meta {"status_code","headers","final_url","protocol","body_len"}
//	stream    {"stream_id","status_code","headers","content_length",
//	           "final_url","protocol"}
//	cookies   {"name":"value",...}
//	presets   ["chrome-143",...]
//
// # Error Priority
//
// Every decoder inspects the reserved "error" field first. Its presence
// short-circuits to an engine error carrying the engine-supplied message
// verbatim, regardless of any other fields in the payload. A nil or empty
// payload is a distinct no-response failure, never silently empty.
//
// # Header Order
//
// Request headers are an ordered list of name/value pairs marshaled as a
// JSON object in insertion order, so fingerprint-sensitive header ordering
// survives the boundary. An explicit header_order list overrides it.
package wire
