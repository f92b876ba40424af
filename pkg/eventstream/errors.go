package eventstream

import "errors"

// ErrNilCaptureEvent indicates a nil capture event payload was provided to a publisher.
var ErrNilCaptureEvent = errors.New("nil capture event")
