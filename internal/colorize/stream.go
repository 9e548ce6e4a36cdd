package colorize

import (
	"context"
	"errors"
	"io"
)

const chunkSize = 32 * 1024

// Pump drives Feed from r until EOF and hands every non-empty batch of
// segments to emit. Cancelling ctx ends the session quietly: the reader is
// closed if it is an io.Closer and any further chunks are discarded.
func Pump(ctx context.Context, r io.Reader, st State, emit func([]Segment) error) (State, error) {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return st, nil
		}
		n, err := r.Read(buf)
		if n > 0 && ctx.Err() == nil {
			var segs []Segment
			st, segs = Feed(st, buf[:n])
			if len(segs) > 0 {
				if emitErr := emit(segs); emitErr != nil {
					return st, emitErr
				}
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return st, nil
		}
		if !errors.Is(err, io.EOF) {
			return st, err
		}
		var segs []Segment
		st, segs = Flush(st)
		if len(segs) > 0 {
			if emitErr := emit(segs); emitErr != nil {
				return st, emitErr
			}
		}
		return st, nil
	}
}
