package doubao

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/platform/errors"
)

// clientFrame decodes header | size | gzip(payload) as sent by the client.
func clientFrame(t *testing.T, data []byte) (msgType, flags byte, payload []byte) {
	t.Helper()
	if len(data) < 8 {
		t.Fatalf("client frame too short: %d", len(data))
	}
	size := binary.BigEndian.Uint32(data[4:8])
	zr, err := gzip.NewReader(bytes.NewReader(data[8 : 8+size]))
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	payload, err = io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return data[1] >> 4, data[1] & 0x0f, payload
}

func serverResult(t *testing.T, flags byte, seq int32, text string, definite bool) []byte {
	t.Helper()
	body, _ := sonic.Marshal(map[string]any{
		"result": map[string]any{
			"text":       text,
			"utterances": []map[string]any{{"text": text, "definite": definite}},
		},
	})
	msg, err := encodeFrame(serverFullResponse, flags|flagSequence, jsonFormat, []uint32{uint32(seq)}, body)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

type backend func(t *testing.T, conn *websocket.Conn)

func newBackend(t *testing.T, handle backend) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-App-Key") != "app" || r.Header.Get("X-Api-Access-Key") != "token" {
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Api-Connect-Id") == "" {
			http.Error(w, "missing connect id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(t, conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newRecognizer(t *testing.T, ts *httptest.Server, token string) *Recognizer {
	t.Helper()
	rec, err := New(Settings{
		AppID:       "app",
		AccessToken: token,
		URL:         "ws" + strings.TrimPrefix(ts.URL, "http"),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func streamCfg() inter.StreamConfig {
	return inter.StreamConfig{Encoding: "LINEAR16", SampleRate: 16000, Language: "en-US", Punctuation: true}
}

func TestStreamRoundTrip(t *testing.T) {
	requests := make(chan fullRequest, 1)
	ts := newBackend(t, func(t *testing.T, conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		kind, _, payload := clientFrame(t, data)
		if kind != clientFullRequest {
			t.Errorf("first frame type = %x", kind)
			return
		}
		var req fullRequest
		_ = sonic.Unmarshal(payload, &req)
		requests <- req
		_ = conn.WriteMessage(websocket.BinaryMessage, serverResult(t, flagNone, 1, "", false))

		seq := int32(2)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_, flags, _ := clientFrame(t, data)
			switch {
			case flags&flagLast != 0:
				_ = conn.WriteMessage(websocket.BinaryMessage, serverResult(t, flagLast, -seq, "hello world", true))
				return
			case seq == 2:
				_ = conn.WriteMessage(websocket.BinaryMessage, serverResult(t, flagNone, seq, "hello", false))
			default:
				_ = conn.WriteMessage(websocket.BinaryMessage, serverResult(t, flagNone, seq, "hello world", true))
			}
			seq++
		}
	})

	stream, err := newRecognizer(t, ts, "token").Open(context.Background(), streamCfg())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case req := <-requests:
		if req.Audio.Rate != 16000 || req.Audio.Format != "pcm" || req.Request.ModelName != defaultModel || !req.Request.EnablePunc {
			t.Fatalf("request = %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("backend never saw the full request")
	}

	if err := stream.Send([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	res, err := stream.Recv()
	if err != nil || res.Text != "hello" || res.IsFinal {
		t.Fatalf("interim = %+v, %v", res, err)
	}

	if err := stream.Send([]byte{5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	res, err = stream.Recv()
	if err != nil || res.Text != "hello world" || !res.IsFinal {
		t.Fatalf("final = %+v, %v", res, err)
	}

	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}
	if err := stream.Send([]byte{9}); err == nil {
		t.Fatal("send after CloseSend accepted")
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("after last package err = %v, want io.EOF", err)
	}
}

func TestOpenRejectedCredentialsIsFatal(t *testing.T) {
	ts := newBackend(t, func(*testing.T, *websocket.Conn) {})
	_, err := newRecognizer(t, ts, "wrong").Open(context.Background(), streamCfg())
	if !errors.IsKind(err, errors.KindFatal) {
		t.Fatalf("err = %v", err)
	}
}

func TestServerErrorCodes(t *testing.T) {
	errorFrame := func(t *testing.T, code uint32) []byte {
		msg, err := encodeFrame(serverErrorResponse, flagNone, jsonFormat, []uint32{code}, []byte(`{"error":"bad"}`))
		if err != nil {
			t.Fatal(err)
		}
		return msg
	}

	t.Run("handshake invalid params", func(t *testing.T) {
		ts := newBackend(t, func(t *testing.T, conn *websocket.Conn) {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.BinaryMessage, errorFrame(t, codeInvalidParams))
		})
		_, err := newRecognizer(t, ts, "token").Open(context.Background(), streamCfg())
		if !errors.IsKind(err, errors.KindFatal) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("mid stream busy", func(t *testing.T) {
		ts := newBackend(t, func(t *testing.T, conn *websocket.Conn) {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.BinaryMessage, serverResult(t, flagNone, 1, "", false))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.BinaryMessage, errorFrame(t, 55000031))
		})
		stream, err := newRecognizer(t, ts, "token").Open(context.Background(), streamCfg())
		if err != nil {
			t.Fatal(err)
		}
		_ = stream.Send([]byte{1, 2})
		_, err = stream.Recv()
		if !errors.IsKind(err, errors.KindRecognizer) {
			t.Fatalf("err = %v", err)
		}
		if _, err := stream.Recv(); err != io.EOF {
			t.Fatalf("recv after failure = %v", err)
		}
	})
}

func TestOpenHonoursContext(t *testing.T) {
	ts := newBackend(t, func(t *testing.T, conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, serverResult(t, flagNone, 1, "", false))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := newRecognizer(t, ts, "token").Open(ctx, streamCfg())
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		errCh <- err
	}()
	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Recv succeeded after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after cancel")
	}
}

func TestDecodeFrameRejectsTruncated(t *testing.T) {
	full := serverResult(t, flagNone, 1, "hi", false)
	for _, n := range []int{0, 3, 6, 10, len(full) - 1} {
		if _, err := decodeFrame(full[:n]); err == nil {
			t.Fatalf("truncated frame of %d bytes decoded", n)
		}
	}
	f, err := decodeFrame(full)
	if err != nil || f.sequence != 1 || !bytes.Contains(f.payload, []byte(`"hi"`)) {
		t.Fatalf("decode = %+v, %v", f, err)
	}
}
