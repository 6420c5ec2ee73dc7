// Package doubao streams audio to the Volcengine bigmodel recognizer over
// its binary websocket protocol.
package doubao

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
)

const (
	ProviderName      = "doubao"
	DefaultURL        = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel"
	DefaultResourceID = "volc.bigasr.sauc.duration"
	defaultModel      = "bigmodel"

	codeInvalidParams  = 45000001
	codeBadAudioFormat = 45000151
)

// Settings holds credentials and connection options.
type Settings struct {
	AppID            string
	AccessToken      string
	URL              string
	ResourceID       string
	EndWindowSize    int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Recognizer opens one websocket per recognition stream.
type Recognizer struct {
	settings Settings
	logger   *logging.Logger
	dialer   *websocket.Dialer
}

func New(s Settings, logger *logging.Logger) (*Recognizer, error) {
	if s.AppID == "" || s.AccessToken == "" {
		return nil, errors.New(errors.KindConfig, "doubao.new", "app_id and access_token are required")
	}
	if s.URL == "" {
		s.URL = DefaultURL
	}
	if s.ResourceID == "" {
		s.ResourceID = DefaultResourceID
	}
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = 10 * time.Second
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recognizer{
		settings: s,
		logger:   logger,
		dialer:   &websocket.Dialer{HandshakeTimeout: s.HandshakeTimeout},
	}, nil
}

func (r *Recognizer) Name() string { return ProviderName }

// Open dials the backend, sends the full client request and waits for the
// server to acknowledge it.
func (r *Recognizer) Open(ctx context.Context, cfg inter.StreamConfig) (inter.RecognizeStream, error) {
	connectID := uuid.NewString()
	headers := http.Header{
		"X-Api-App-Key":     {r.settings.AppID},
		"X-Api-Access-Key":  {r.settings.AccessToken},
		"X-Api-Resource-Id": {r.settings.ResourceID},
		"X-Api-Connect-Id":  {connectID},
	}

	conn, resp, err := r.dialer.DialContext(ctx, r.settings.URL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.Wrap(errors.KindFatal, "doubao.dial", fmt.Sprintf("handshake rejected with %d", resp.StatusCode), err)
		}
		return nil, errors.Wrap(errors.KindRecognizer, "doubao.dial", "dial recognizer", err)
	}

	s := &stream{conn: conn, logger: r.logger, writeTimeout: r.settings.WriteTimeout}
	s.stopWatch = context.AfterFunc(ctx, func() { _ = conn.Close() })

	if err := s.handshake(r.request(connectID, cfg), r.settings.HandshakeTimeout); err != nil {
		s.finish()
		return nil, err
	}
	r.logger.DebugTag("ASR", "doubao stream opened", "connect_id", connectID, "sample_rate", cfg.SampleRate)
	return s, nil
}

func (r *Recognizer) request(connectID string, cfg inter.StreamConfig) fullRequest {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return fullRequest{
		User: requestUser{UID: connectID},
		Audio: requestAudio{
			Format:   "pcm",
			Rate:     cfg.SampleRate,
			Bits:     16,
			Channel:  1,
			Language: cfg.Language,
		},
		Request: requestOptions{
			ModelName:      model,
			EndWindowSize:  r.settings.EndWindowSize,
			EnablePunc:     cfg.Punctuation,
			EnableITN:      true,
			ResultType:     "single",
			ShowUtterances: true,
		},
	}
}

type stream struct {
	conn         *websocket.Conn
	logger       *logging.Logger
	writeTimeout time.Duration
	stopWatch    func() bool

	writeMu sync.Mutex
	sent    bool

	finishOnce sync.Once
	done       bool
	lastFinal  string
}

func (s *stream) handshake(req fullRequest, timeout time.Duration) error {
	body, err := sonic.Marshal(req)
	if err != nil {
		return errors.Wrap(errors.KindFatal, "doubao.request", "encode request", err)
	}
	msg, err := encodeFrame(clientFullRequest, flagNone, jsonFormat, nil, body)
	if err != nil {
		return errors.Wrap(errors.KindFatal, "doubao.request", "encode request", err)
	}
	if err := s.write(msg); err != nil {
		return errors.Wrap(errors.KindRecognizer, "doubao.request", "send request", err)
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	defer s.conn.SetReadDeadline(time.Time{})
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return errors.Wrap(errors.KindRecognizer, "doubao.request", "await acknowledgement", err)
	}
	f, err := decodeFrame(data)
	if err != nil {
		return errors.Wrap(errors.KindRecognizer, "doubao.request", "decode acknowledgement", err)
	}
	if f.msgType == serverErrorResponse {
		return codeError("doubao.request", f)
	}
	return nil
}

func (s *stream) write(msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, msg)
}

func (s *stream) sendAudio(data []byte, flags byte) error {
	msg, err := encodeFrame(clientAudioRequest, flags, noSerialization, nil, data)
	if err != nil {
		return errors.Wrap(errors.KindRecognizer, "doubao.send", "encode audio", err)
	}
	if err := s.write(msg); err != nil {
		return errors.Wrap(errors.KindRecognizer, "doubao.send", "send audio", err)
	}
	return nil
}

func (s *stream) Send(data []byte) error {
	s.writeMu.Lock()
	closed := s.sent
	s.writeMu.Unlock()
	if closed {
		return errors.New(errors.KindRecognizer, "doubao.send", "send after CloseSend")
	}
	if len(data) == 0 {
		return nil
	}
	return s.sendAudio(data, flagNone)
}

// CloseSend sends the empty last-packet frame. The server answers with its
// final result flagged as last.
func (s *stream) CloseSend() error {
	s.writeMu.Lock()
	if s.sent {
		s.writeMu.Unlock()
		return nil
	}
	s.sent = true
	s.writeMu.Unlock()
	return s.sendAudio(nil, flagLast)
}

func (s *stream) Recv() (inter.Result, error) {
	for {
		if s.done {
			return inter.Result{}, io.EOF
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return inter.Result{}, io.EOF
			}
			return inter.Result{}, errors.Wrap(errors.KindRecognizer, "doubao.recv", "read response", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			s.finish()
			return inter.Result{}, errors.Wrap(errors.KindRecognizer, "doubao.recv", "decode response", err)
		}

		switch f.msgType {
		case serverAck:
			continue
		case serverErrorResponse:
			s.finish()
			return inter.Result{}, codeError("doubao.recv", f)
		}

		var payload responsePayload
		if len(f.payload) > 0 {
			if err := sonic.Unmarshal(f.payload, &payload); err != nil {
				s.finish()
				return inter.Result{}, errors.Wrap(errors.KindRecognizer, "doubao.recv", "parse response", err)
			}
		}
		if payload.Error != "" {
			s.finish()
			return inter.Result{}, errors.New(errors.KindRecognizer, "doubao.recv", payload.Error)
		}

		res := toResult(payload)
		if f.last() {
			s.finish()
			res.IsFinal = true
		}
		if res.Text == "" {
			continue
		}
		// the last package repeats the utterance already reported as definite
		if res.IsFinal {
			if res.Text == s.lastFinal {
				continue
			}
			s.lastFinal = res.Text
		}
		return res, nil
	}
}

// toResult reports the latest utterance; a definite utterance is final.
func toResult(p responsePayload) inter.Result {
	if n := len(p.Result.Utterances); n > 0 {
		u := p.Result.Utterances[n-1]
		return inter.Result{Text: u.Text, IsFinal: u.Definite}
	}
	return inter.Result{Text: p.Result.Text}
}

func (s *stream) finish() {
	s.finishOnce.Do(func() {
		s.done = true
		if s.stopWatch != nil {
			s.stopWatch()
		}
		_ = s.conn.Close()
	})
}

func codeError(op string, f frame) error {
	msg := fmt.Sprintf("server error %d: %s", f.code, string(f.payload))
	switch f.code {
	case codeInvalidParams, codeBadAudioFormat:
		return errors.New(errors.KindFatal, op, msg)
	default:
		return errors.New(errors.KindRecognizer, op, msg)
	}
}
