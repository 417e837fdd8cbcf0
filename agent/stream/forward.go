package stream

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
)

// Writer is the transport side of the coordinator. Implementations bind the
// uniform fragment sequence to a concrete wire format (SSE, plain text).
type Writer interface {
	WriteFragment(text string) error
	WriteError(msg string) error
	WriteDone() error
}

// Forward drains src into w, preserving fragment order and flushing the
// first fragment as soon as it is available. A mid-stream failure terminates
// the sequence with an error marker; fragments already written stay written.
// The returned error is the terminal stream error, nil on clean completion.
func Forward(ctx context.Context, src contractx.FragmentStream, w Writer) error {
	defer src.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		text, err := src.Recv()
		if errors.Is(err, io.EOF) {
			if werr := w.WriteDone(); werr != nil {
				log.Warn().Err(werr).Msg("write done marker failed")
			}
			return nil
		}
		if err != nil {
			if werr := w.WriteError(err.Error()); werr != nil {
				log.Warn().Err(werr).Msg("write error marker failed")
			}
			return err
		}
		if err := w.WriteFragment(text); err != nil {
			// Transport gone: stop consuming so the producer unblocks.
			return err
		}
	}
}

// Relay copies src into a new Stream, accumulating the full text. onDone
// runs with the accumulated text after the last fragment has been relayed,
// before the consumer observes io.EOF. It is skipped on failure or
// cancellation, which keeps conversation state untouched for aborted runs.
func Relay(ctx context.Context, src contractx.FragmentStream, onDone func(full string)) *Stream {
	out := New()
	go func() {
		defer src.Close()
		var full []byte
		for {
			text, err := src.Recv()
			if errors.Is(err, io.EOF) {
				if onDone != nil {
					onDone(string(full))
				}
				out.CloseSend()
				return
			}
			if err != nil {
				out.Fail(err)
				return
			}
			full = append(full, text...)
			if err := out.Send(ctx, text); err != nil {
				// Consumer gone or ctx done. Terminate anyway so the
				// output always carries a terminal marker.
				out.Fail(err)
				return
			}
		}
	}()
	return out
}
