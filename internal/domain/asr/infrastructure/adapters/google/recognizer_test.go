package google

import (
	"context"
	"io"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/platform/errors"
)

type fakeCall struct {
	grpc.ClientStream
	sent      []*speechpb.StreamingRecognizeRequest
	responses []*speechpb.StreamingRecognizeResponse
	recvErr   error
	closed    bool
}

func (f *fakeCall) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeCall) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	if len(f.responses) > 0 {
		r := f.responses[0]
		f.responses = f.responses[1:]
		return r, nil
	}
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	return nil, io.EOF
}

func (f *fakeCall) CloseSend() error {
	f.closed = true
	return nil
}

type fakeClient struct {
	call    *fakeCall
	openErr error
}

func (c *fakeClient) open(context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.call, nil
}

func (c *fakeClient) Close() error { return nil }

func newTestRecognizer(c *fakeClient) *Recognizer {
	r := New(Settings{MaxFailures: 2, RetryAfter: time.Minute}, nil)
	r.dial = func(context.Context, Settings) (client, error) { return c, nil }
	return r
}

func TestOpenSendsConfigFirst(t *testing.T) {
	call := &fakeCall{}
	r := newTestRecognizer(&fakeClient{call: call})

	st, err := r.Open(context.Background(), inter.StreamConfig{
		Encoding: "linear16", SampleRate: 16000, Language: "en-US", Punctuation: true, InterimResults: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := st.Send([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := st.CloseSend(); err != nil || !call.closed {
		t.Fatalf("close send: %v closed=%v", err, call.closed)
	}

	if len(call.sent) != 2 {
		t.Fatalf("sent %d requests", len(call.sent))
	}
	sc := call.sent[0].GetStreamingConfig()
	if sc == nil || !sc.GetInterimResults() {
		t.Fatalf("first request is not a streaming config: %v", call.sent[0])
	}
	rc := sc.GetConfig()
	if rc.GetSampleRateHertz() != 16000 || rc.GetEncoding() != speechpb.RecognitionConfig_LINEAR16 || !rc.GetEnableAutomaticPunctuation() {
		t.Fatalf("recognition config %v", rc)
	}
	if string(call.sent[1].GetAudioContent()) != "\x01\x02" {
		t.Fatalf("audio request %v", call.sent[1])
	}
}

func TestRecvTakesFirstAlternative(t *testing.T) {
	call := &fakeCall{responses: []*speechpb.StreamingRecognizeResponse{
		{},
		{Results: []*speechpb.StreamingRecognitionResult{{
			IsFinal: true,
			Alternatives: []*speechpb.SpeechRecognitionAlternative{
				{Transcript: "hello world", Confidence: 0.8},
				{Transcript: "yellow world", Confidence: 0.1},
			},
		}}},
	}}
	r := newTestRecognizer(&fakeClient{call: call})
	st, err := r.Open(context.Background(), inter.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}

	res, err := st.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello world" || !res.IsFinal || res.Confidence != 0.8 {
		t.Fatalf("result %+v", res)
	}
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("end of stream = %v", err)
	}
}

func TestRecvReturnsEveryResult(t *testing.T) {
	call := &fakeCall{responses: []*speechpb.StreamingRecognizeResponse{
		{Results: []*speechpb.StreamingRecognitionResult{
			{IsFinal: true, Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "first sentence", Confidence: 0.9}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "second sen"}}},
		}},
		{Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "second sentence"}}},
		}},
	}}
	r := newTestRecognizer(&fakeClient{call: call})
	st, err := r.Open(context.Background(), inter.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}

	want := []inter.Result{
		{Text: "first sentence", IsFinal: true, Confidence: 0.9},
		{Text: "second sen"},
		{Text: "second sentence"},
	}
	for i, w := range want {
		res, err := st.Recv()
		if err != nil {
			t.Fatalf("result %d: %v", i, err)
		}
		if res != w {
			t.Fatalf("result %d = %+v, want %+v", i, res, w)
		}
	}
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("end of stream = %v", err)
	}
}

func TestRecvTreatsDurationLimitAsEnd(t *testing.T) {
	call := &fakeCall{responses: []*speechpb.StreamingRecognizeResponse{
		{Error: &rpcstatus.Status{Code: int32(codes.OutOfRange), Message: "max duration"}},
	}}
	r := newTestRecognizer(&fakeClient{call: call})
	st, _ := r.Open(context.Background(), inter.StreamConfig{})
	if _, err := st.Recv(); err != io.EOF {
		t.Fatalf("recv = %v", err)
	}
}

func TestRecvClassifiesErrors(t *testing.T) {
	call := &fakeCall{recvErr: status.Error(codes.Unavailable, "backend down")}
	r := newTestRecognizer(&fakeClient{call: call})
	st, _ := r.Open(context.Background(), inter.StreamConfig{})
	_, err := st.Recv()
	if !errors.IsKind(err, errors.KindRecognizer) || errors.IsKind(err, errors.KindFatal) {
		t.Fatalf("unavailable classified as %v", err)
	}

	if err := classify("op", status.Error(codes.Unauthenticated, "bad key")); !errors.IsKind(err, errors.KindFatal) {
		t.Fatalf("unauthenticated classified as %v", err)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	r := newTestRecognizer(&fakeClient{openErr: status.Error(codes.Unavailable, "down")})
	for i := 0; i < 2; i++ {
		if _, err := r.Open(context.Background(), inter.StreamConfig{}); err == nil {
			t.Fatal("open succeeded")
		}
	}
	_, err := r.Open(context.Background(), inter.StreamConfig{})
	if err == nil || errors.KindOf(err) != errors.KindRecognizer {
		t.Fatalf("open with breaker tripped = %v", err)
	}
	if r.breaker.allow() {
		t.Fatal("breaker should be open")
	}

	r.breaker.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if !r.breaker.allow() {
		t.Fatal("breaker should half-open after retryAfter")
	}
	r.breaker.recordFailure()
	if r.breaker.now = time.Now; r.breaker.allow() {
		t.Fatal("failure while half-open should reopen the breaker")
	}
}
