package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

type closeWriter interface {
	CloseWrite() error
}

// CopyBidirectional relays bytes between left and right until both
// directions finish or ctx is canceled, then closes both connections.
//
// When one direction reaches EOF the write side of its destination is shut
// down if the connection supports it, so half-closed streams keep flowing the
// other way; otherwise both connections are closed.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	copyHalf := func(dst, src net.Conn) error {
		_, err := io.Copy(dst, src)
		if cw, ok := dst.(closeWriter); ok && err == nil {
			_ = cw.CloseWrite()
		} else {
			closeBoth()
		}
		if errors.Is(err, net.ErrClosed) {
			// The other half, or ctx, already tore the relay down.
			return nil
		}
		return err
	}

	done := make(chan struct{})
	g.Go(func() error {
		return copyHalf(left, right)
	})
	g.Go(func() error {
		return copyHalf(right, left)
	})

	// If the context is canceled, ensure we close both sides to unblock Copy.
	go func() {
		select {
		case <-gctx.Done():
			closeBoth()
		case <-done:
		}
	}()

	err := g.Wait()
	close(done)
	return err
}
