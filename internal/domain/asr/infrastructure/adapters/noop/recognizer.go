// Package noop provides a recognizer that accepts audio and never produces
// results. It lets the server run without recognizer credentials.
package noop

import (
	"context"
	"io"
	"sync"

	"meetscribe-server/internal/domain/asr/inter"
)

const ProviderName = "noop"

type Recognizer struct{}

func New() *Recognizer { return &Recognizer{} }

func (r *Recognizer) Name() string { return ProviderName }

func (r *Recognizer) Open(ctx context.Context, _ inter.StreamConfig) (inter.RecognizeStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stream{ctx: ctx, closed: make(chan struct{})}, nil
}

type stream struct {
	ctx    context.Context
	once   sync.Once
	closed chan struct{}
}

func (s *stream) Send([]byte) error {
	select {
	case <-s.closed:
		return io.EOF
	default:
		return s.ctx.Err()
	}
}

func (s *stream) CloseSend() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Recv blocks until the send side is closed or the stream is cancelled.
func (s *stream) Recv() (inter.Result, error) {
	select {
	case <-s.closed:
		return inter.Result{}, io.EOF
	case <-s.ctx.Done():
		return inter.Result{}, s.ctx.Err()
	}
}
