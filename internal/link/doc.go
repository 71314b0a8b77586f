// Package link runs the request/response conversation with one cube over one
// transport.
//
// A Session owns the transport exclusively. A background goroutine reads and
// decodes frames; each frame either completes the pending request waiting
// for its message id, fails it (when the cube sends an error report), or is
// handed to the configured Observer. Commands are written by one caller at a
// time.
package link
