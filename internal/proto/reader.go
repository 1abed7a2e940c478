package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultReadTimeout bounds every single read attempt so a silent peer
// surfaces as a transport error instead of hanging the session.
const DefaultReadTimeout = 5500 * time.Millisecond

var (
	ErrConnectionReset  = errors.New("proto: connection reset by peer")
	ErrTransportTimeout = errors.New("proto: read attempt timed out")
)

// TransportError is any failure of the underlying stream. All of them are
// recoverable from the session's point of view.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("proto: %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// DeadlineReader is the part of net.Conn ReadFrame needs.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadFrame reads exactly size bytes from r, accumulating partial reads.
//
// Each underlying read is bounded by attemptTimeout (0 disables the bound).
// Cancelling ctx forces the pending read to return immediately and the
// context error is returned in preference to any data or timeout.
func ReadFrame(ctx context.Context, r DeadlineReader, size int, attemptTimeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = r.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, size)
	got := 0
	for got < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var deadline time.Time
		if attemptTimeout > 0 {
			deadline = time.Now().Add(attemptTimeout)
		}
		if err := r.SetReadDeadline(deadline); err != nil {
			return nil, &TransportError{Op: "set read deadline", Err: err}
		}
		// The deadline above may have overwritten the one forced by a
		// cancellation racing with it.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.Read(buf[got:])
		got += n
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			return nil, classifyReadErr(err)
		}
		if n == 0 {
			return nil, &TransportError{Op: "read", Err: ErrConnectionReset}
		}
	}
	return buf, nil
}

func classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TransportError{Op: "read", Err: ErrConnectionReset}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Op: "read", Err: ErrTransportTimeout}
	}
	return &TransportError{Op: "read", Err: err}
}
