package engine

import "errors"

// ErrUnknownConn is returned by admin operations targeting a connection that
// is not registered. Client-facing rejections are not errors; they are sent
// to the offending connection as status messages with a machine-readable
// code.
var ErrUnknownConn = errors.New("engine: unknown connection")
