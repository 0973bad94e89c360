// Package relay runs the per-connection proxy pipeline: it parses the client's
// request line, consults the shared cache, and on a miss forwards a normalized
// HTTP/1.0 request to the origin while streaming the response back to the
// client. Responses that stay within the object cap are buffered on the way
// through and inserted into the cache once the origin has finished.
package relay
