package doubao

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Message types, upper nibble of header byte 1.
const (
	clientFullRequest   = 0x1
	clientAudioRequest  = 0x2
	serverFullResponse  = 0x9
	serverAck           = 0xB
	serverErrorResponse = 0xF
)

// Message flags, lower nibble of header byte 1.
const (
	flagNone     = 0x0
	flagSequence = 0x1
	flagLast     = 0x2
)

const (
	noSerialization = 0x0
	jsonFormat      = 0x1

	noCompression   = 0x0
	gzipCompression = 0x1

	protocolVersion = 0x1
	headerWords     = 0x1
)

// frame is a decoded server message. Payload is already decompressed.
type frame struct {
	msgType       byte
	flags         byte
	serialization byte
	sequence      int32
	code          uint32
	payload       []byte
}

func (f frame) last() bool {
	return f.flags&flagLast != 0
}

// encodeFrame builds header | fields... | size | gzip(payload). Fields carry
// the sequence or error code words some message types put before the size.
func encodeFrame(msgType, flags, serialization byte, fields []uint32, payload []byte) ([]byte, error) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	out := make([]byte, 0, 4+4*len(fields)+4+compressed.Len())
	out = append(out,
		protocolVersion<<4|headerWords,
		msgType<<4|flags,
		serialization<<4|gzipCompression,
		0,
	)
	for _, field := range fields {
		out = binary.BigEndian.AppendUint32(out, field)
	}
	out = binary.BigEndian.AppendUint32(out, uint32(compressed.Len()))
	return append(out, compressed.Bytes()...), nil
}

func decodeFrame(data []byte) (frame, error) {
	if len(data) < 4 {
		return frame{}, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	headerSize := int(data[0]&0x0f) * 4
	if headerSize < 4 || len(data) < headerSize {
		return frame{}, fmt.Errorf("bad header size %d", headerSize)
	}
	f := frame{
		msgType:       data[1] >> 4,
		flags:         data[1] & 0x0f,
		serialization: data[2] >> 4,
	}
	compression := data[2] & 0x0f
	rest := data[headerSize:]

	word := func(what string) (uint32, error) {
		if len(rest) < 4 {
			return 0, fmt.Errorf("frame truncated before %s", what)
		}
		v := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		return v, nil
	}

	if f.flags&flagSequence != 0 {
		seq, err := word("sequence")
		if err != nil {
			return frame{}, err
		}
		f.sequence = int32(seq)
	}

	switch f.msgType {
	case serverFullResponse:
	case serverAck:
		if len(rest) == 0 {
			return f, nil
		}
	case serverErrorResponse:
		code, err := word("error code")
		if err != nil {
			return frame{}, err
		}
		f.code = code
	default:
		return frame{}, fmt.Errorf("unexpected message type 0x%x", f.msgType)
	}

	size, err := word("payload size")
	if err != nil {
		return frame{}, err
	}
	if uint32(len(rest)) < size {
		return frame{}, fmt.Errorf("payload truncated: have %d want %d", len(rest), size)
	}
	payload := rest[:size]

	if compression == gzipCompression && len(payload) > 0 {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return frame{}, fmt.Errorf("decompress payload: %w", err)
		}
		defer zr.Close()
		if payload, err = io.ReadAll(zr); err != nil {
			return frame{}, fmt.Errorf("decompress payload: %w", err)
		}
	}
	f.payload = payload
	return f, nil
}

type fullRequest struct {
	User    requestUser    `json:"user"`
	Audio   requestAudio   `json:"audio"`
	Request requestOptions `json:"request"`
}

type requestUser struct {
	UID string `json:"uid"`
}

type requestAudio struct {
	Format   string `json:"format"`
	Rate     int    `json:"rate"`
	Bits     int    `json:"bits"`
	Channel  int    `json:"channel"`
	Language string `json:"language,omitempty"`
}

type requestOptions struct {
	ModelName      string `json:"model_name"`
	EndWindowSize  int    `json:"end_window_size,omitempty"`
	EnablePunc     bool   `json:"enable_punc"`
	EnableITN      bool   `json:"enable_itn"`
	ResultType     string `json:"result_type"`
	ShowUtterances bool   `json:"show_utterances"`
}

type responsePayload struct {
	Result struct {
		Text       string      `json:"text"`
		Utterances []utterance `json:"utterances,omitempty"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

type utterance struct {
	Text     string `json:"text"`
	Definite bool   `json:"definite"`
}
