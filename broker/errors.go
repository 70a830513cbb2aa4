package broker

import "errors"

// ErrAlreadyRunning is returned when Start is called on a Broker that is
// already running.
var ErrAlreadyRunning = errors.New("broker: already running")
