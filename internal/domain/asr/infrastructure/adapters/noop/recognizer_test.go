package noop

import (
	"context"
	"io"
	"testing"

	"meetscribe-server/internal/domain/asr/inter"
)

func TestStreamEndsAfterCloseSend(t *testing.T) {
	st, err := New().Open(context.Background(), inter.StreamConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Send([]byte{1, 2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := st.CloseSend(); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("recv = %v, want EOF", err)
	}
	if err := st.Send([]byte{1}); err != io.EOF {
		t.Fatalf("send after close = %v", err)
	}
}

func TestStreamHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st, _ := New().Open(ctx, inter.StreamConfig{})
	cancel()
	if _, err := st.Recv(); err != context.Canceled {
		t.Fatalf("recv = %v", err)
	}
}
