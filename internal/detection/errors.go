package detection

import (
	"errors"
	"fmt"
)

var (
	ErrConnect    = errors.New("connect failed")
	ErrStreamLost = errors.New("stream lost")
	ErrRequest    = errors.New("request failed")
	ErrSession    = errors.New("illegal session transition")

	ErrNoImage       = errors.New("no image to submit")
	ErrNoPredictions = errors.New("no predictions to save")
)

type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) Is(target error) bool {
	return target == ErrConnect
}

type StreamLostError struct {
	Attempts int
	Err      error
}

func (e *StreamLostError) Error() string {
	return fmt.Sprintf("stream lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *StreamLostError) Unwrap() error {
	return e.Err
}

func (e *StreamLostError) Is(target error) bool {
	return target == ErrStreamLost
}

// RequestError is returned by the synchronous endpoints. StatusCode is zero
// when the request never produced a response.
type RequestError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func (e *RequestError) Is(target error) bool {
	return target == ErrRequest
}

type SessionError struct {
	From   string
	To     string
	Reason string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("cannot enter %s from %s: %s", e.To, e.From, e.Reason)
}

func (e *SessionError) Is(target error) bool {
	return target == ErrSession
}
