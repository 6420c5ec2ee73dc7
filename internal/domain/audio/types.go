// Package audio owns per-client stream buffering, quality gating and the
// alignment of independent audio feeds into one signal.
package audio

import (
	"fmt"
	"strings"

	"meetscribe-server/internal/platform/errors"
)

// AudioType tags which feed a chunk belongs to. Only Microphone and System
// are accepted anywhere in the pipeline.
type AudioType string

const (
	Microphone AudioType = "microphone"
	System     AudioType = "system"
)

// AudioTypes lists every accepted type in registration order.
var AudioTypes = []AudioType{Microphone, System}

var (
	ErrInvalidAudioType = errors.New(errors.KindProtocol, "audio.type", "audio type must be microphone or system")
	ErrUnknownStream    = errors.New(errors.KindProtocol, "audio.stream", "stream is not registered")
)

// Valid reports whether t is on the allow-list.
func (t AudioType) Valid() bool {
	return t == Microphone || t == System
}

func (t AudioType) String() string {
	return string(t)
}

// ParseAudioType validates a wire value. Matching is exact; "Microphone" or
// " system" are rejected like any other unknown tag.
func ParseAudioType(s string) (AudioType, error) {
	t := AudioType(s)
	if !t.Valid() {
		return "", errors.Annotate(errors.KindProtocol, "audio.parse_type",
			fmt.Sprintf("unsupported audio type %q", s), ErrInvalidAudioType)
	}
	return t, nil
}

// StreamKey identifies one feed of one client.
type StreamKey struct {
	ClientID string
	Type     AudioType
}

// Key builds a StreamKey.
func Key(clientID string, t AudioType) StreamKey {
	return StreamKey{ClientID: clientID, Type: t}
}

// String renders the key for logs and status maps only. It is never parsed.
func (k StreamKey) String() string {
	var b strings.Builder
	b.Grow(len(k.ClientID) + len(k.Type) + 1)
	b.WriteString(k.ClientID)
	b.WriteByte('_')
	b.WriteString(string(k.Type))
	return b.String()
}
