// Package google streams audio to Google Cloud Speech-to-Text.
package google

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
)

const ProviderName = "google"

// Settings holds client connection options. Recognition parameters arrive
// per stream through inter.StreamConfig.
type Settings struct {
	CredentialsFile string
	Endpoint        string
	MaxFailures     int
	RetryAfter      time.Duration
}

// client is the slice of the Speech API this package uses.
type client interface {
	open(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error)
	Close() error
}

type dialFunc func(ctx context.Context, s Settings) (client, error)

type speechClient struct {
	*speech.Client
}

func (c speechClient) open(ctx context.Context) (speechpb.Speech_StreamingRecognizeClient, error) {
	return c.StreamingRecognize(ctx)
}

func dialSpeech(ctx context.Context, s Settings) (client, error) {
	var opts []option.ClientOption
	if s.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(s.CredentialsFile))
	}
	if s.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.Endpoint))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return speechClient{c}, nil
}

// Recognizer opens StreamingRecognize calls on a lazily dialled client.
type Recognizer struct {
	settings Settings
	logger   *logging.Logger
	dial     dialFunc
	breaker  *circuitBreaker

	mu     sync.Mutex
	client client
}

func New(s Settings, logger *logging.Logger) *Recognizer {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recognizer{
		settings: s,
		logger:   logger,
		dial:     dialSpeech,
		breaker:  newCircuitBreaker(s.MaxFailures, s.RetryAfter),
	}
}

func (r *Recognizer) Name() string { return ProviderName }

// Close releases the underlying client.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *Recognizer) getClient(ctx context.Context) (client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	c, err := r.dial(context.WithoutCancel(ctx), r.settings)
	if err != nil {
		return nil, err
	}
	r.client = c
	r.logger.InfoTag("ASR", "google speech client ready", "endpoint", r.settings.Endpoint)
	return c, nil
}

// Open starts a streaming call and sends the recognition config as its first
// request.
func (r *Recognizer) Open(ctx context.Context, cfg inter.StreamConfig) (inter.RecognizeStream, error) {
	if !r.breaker.allow() {
		return nil, errors.New(errors.KindRecognizer, "google.open", "circuit breaker is open")
	}

	c, err := r.getClient(ctx)
	if err != nil {
		r.breaker.recordFailure()
		return nil, classify("google.dial", err)
	}

	call, err := c.open(ctx)
	if err != nil {
		r.breaker.recordFailure()
		return nil, classify("google.open", err)
	}
	if err := call.Send(configRequest(cfg)); err != nil {
		r.breaker.recordFailure()
		return nil, classify("google.config", err)
	}
	r.breaker.recordSuccess()
	return &stream{call: call}, nil
}

func configRequest(cfg inter.StreamConfig) *speechpb.StreamingRecognizeRequest {
	encoding := speechpb.RecognitionConfig_LINEAR16
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[strings.ToUpper(cfg.Encoding)]; ok {
		encoding = speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(cfg.SampleRate),
					AudioChannelCount:          1,
					LanguageCode:               cfg.Language,
					MaxAlternatives:            1,
					EnableAutomaticPunctuation: cfg.Punctuation,
					Model:                      cfg.Model,
					UseEnhanced:                cfg.Enhanced,
				},
				InterimResults: cfg.InterimResults,
			},
		},
	}
}

type stream struct {
	call speechpb.Speech_StreamingRecognizeClient
	// results of the last response not returned yet
	pending []inter.Result
}

func (s *stream) Send(data []byte) error {
	return s.call.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: data},
	})
}

func (s *stream) CloseSend() error {
	return s.call.CloseSend()
}

// Recv returns the top alternative of every result, in response order. A
// response carrying several results is returned over several calls. The
// backend's stream duration limit ends the stream like io.EOF.
func (s *stream) Recv() (inter.Result, error) {
	for {
		if len(s.pending) > 0 {
			res := s.pending[0]
			s.pending = s.pending[1:]
			return res, nil
		}

		resp, err := s.call.Recv()
		if err == io.EOF {
			return inter.Result{}, io.EOF
		}
		if err != nil {
			if status.Code(err) == codes.OutOfRange {
				return inter.Result{}, io.EOF
			}
			return inter.Result{}, classify("google.recv", err)
		}
		if e := resp.GetError(); e != nil && codes.Code(e.GetCode()) != codes.OK {
			if codes.Code(e.GetCode()) == codes.OutOfRange {
				return inter.Result{}, io.EOF
			}
			return inter.Result{}, classify("google.recv", status.Error(codes.Code(e.GetCode()), e.GetMessage()))
		}
		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			s.pending = append(s.pending, inter.Result{
				Text:       alts[0].GetTranscript(),
				IsFinal:    result.GetIsFinal(),
				Confidence: alts[0].GetConfidence(),
			})
		}
	}
}

// classify marks errors that retrying cannot fix as fatal.
func classify(op string, err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated:
		return errors.Annotate(errors.KindFatal, op, "recognizer rejected request", err)
	default:
		return errors.Annotate(errors.KindRecognizer, op, "recognizer call failed", err)
	}
}
