package sdk

import (
	"errors"
	"fmt"
)

// ErrNoUserInfo is returned while no user is signed in.
var ErrNoUserInfo = errors.New("user not logged in")

// HandshakeError reports a failed websocket upgrade.
type HandshakeError struct {
	RemoteAddr string
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake with %s failed: %v", e.RemoteAddr, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
