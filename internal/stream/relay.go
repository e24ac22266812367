// Package stream copies upstream bodies to callers under a byte ceiling.
package stream

import (
	"context"
	"errors"
	"io"
	"net/http"

	"pdf-relay-go/internal/model"
)

// ChunkSize is the read buffer size used while relaying.
const ChunkSize = 32 * 1024

// Relay streams desc.Body to sink and returns the number of bytes written.
//
// A declared length above ceiling is rejected before anything is written.
// Otherwise chunks are forwarded as they arrive; the chunk that would push
// the running total past ceiling is dropped, so sink never receives more
// than ceiling bytes. Bytes already written are not rolled back.
//
// desc.Body is closed on every return path. Canceling ctx or a failing
// sink write stops the copy.
func Relay(ctx context.Context, desc *model.UpstreamDescriptor, sink io.Writer, ceiling int64) (int64, error) {
	if desc.Body == nil {
		return 0, model.NewError(model.KindServerError, "upstream returned no body", nil)
	}
	defer func() { _ = desc.Body.Close() }()

	if n, ok := desc.DeclaredLength(); ok && n > ceiling {
		return 0, model.TooLarge(ceiling)
	}

	flusher, _ := sink.(http.Flusher)
	buf := make([]byte, ChunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, model.NewError(model.KindServerError, "client disconnected", err)
		}

		n, rerr := desc.Body.Read(buf)
		if n > 0 {
			if total+int64(n) > ceiling {
				return total, model.TooLarge(ceiling)
			}
			w, werr := sink.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, model.NewError(model.KindServerError, "client disconnected", werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if errors.Is(rerr, io.EOF) {
			return total, nil
		}
		if rerr != nil {
			return total, readError(rerr)
		}
	}
}

func readError(err error) error {
	var re *model.Error
	if errors.As(err, &re) {
		return err
	}
	return model.NewError(model.KindServerError, "upstream read failed", err)
}
