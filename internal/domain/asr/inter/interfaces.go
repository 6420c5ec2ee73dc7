package inter

import "context"

// StreamConfig is sent once when a recognizer stream is opened.
type StreamConfig struct {
	Encoding       string `json:"encoding"`
	SampleRate     int    `json:"sample_rate"`
	Language       string `json:"language"`
	Model          string `json:"model,omitempty"`
	Punctuation    bool   `json:"punctuation"`
	Enhanced       bool   `json:"enhanced"`
	InterimResults bool   `json:"interim_results"`
}

// Result is one recognizer hypothesis. Confidence is only meaningful when
// IsFinal is set.
type Result struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float32 `json:"confidence"`
}

// Recognizer opens streaming recognition connections.
type Recognizer interface {
	Name() string
	Open(ctx context.Context, cfg StreamConfig) (RecognizeStream, error)
}

// RecognizeStream is a single long-lived recognition connection. Send and
// Recv may be called from different goroutines. Recv returns io.EOF once the
// backend has flushed everything after CloseSend, and may fail at any time if
// the backend drops the connection.
type RecognizeStream interface {
	Send(chunk []byte) error
	CloseSend() error
	Recv() (Result, error)
}
