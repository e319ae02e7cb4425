package wire

import (
	"context"
	"io"
)

// AcceptUniReaders runs a loop calling accept (typically a closure over a
// transport.Session's AcceptUniStream) for each inbound unidirectional
// stream, wrapping it in a Reader and passing it to handle. handle is
// invoked synchronously in this loop; callers that want per-stream
// concurrency spawn a goroutine inside it. The loop returns the error from
// accept once the session closes.
func AcceptUniReaders(ctx context.Context, accept func(context.Context) (io.Reader, error), handle func(*Reader)) error {
	for {
		s, err := accept(ctx)
		if err != nil {
			return err
		}
		handle(NewReader(s))
	}
}
