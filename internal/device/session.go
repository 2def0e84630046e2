package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// stopTimeout bounds the StopStreaming call made by Close.
const stopTimeout = 5 * time.Second

// Stream is an open streaming session. Close stops it; it is safe to call
// Close any number of times from any goroutine.
type Stream struct {
	client Client
	cfg    AdsConfig

	once sync.Once
	err  error
}

// Open starts streaming on c with h as the frame handler. If starting fails,
// Open still asks the device to stop so no half-started stream is left.
func Open(ctx context.Context, c Client, h FrameHandler) (*Stream, error) {
	if !c.IsConnected() {
		return nil, &ConnectionError{Op: "start streaming"}
	}

	cfg, err := c.StartStreaming(ctx, h)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		if stopErr := c.StopStreaming(stopCtx); stopErr != nil && !errors.Is(stopErr, ErrNotConnected) {
			err = errors.Join(err, stopErr)
		}
		return nil, err
	}
	return &Stream{client: c, cfg: cfg}, nil
}

// Config is the front-end configuration the device reported at start.
func (s *Stream) Config() AdsConfig { return s.cfg }

// Close stops streaming once and returns the result of that stop on every call.
func (s *Stream) Close() error {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		s.err = s.client.StopStreaming(ctx)
	})
	return s.err
}

// Run opens a stream on c, calls body with it and closes the stream however
// body ends: normal return, error, context cancellation or panic. A nil body
// waits for ctx to be done.
func Run(ctx context.Context, c Client, h FrameHandler, body func(ctx context.Context, s *Stream) error) (err error) {
	s, err := Open(ctx, c, h)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close stream: %w", cerr))
		}
	}()

	if body == nil {
		<-ctx.Done()
		return nil
	}
	return body(ctx, s)
}
