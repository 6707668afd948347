package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single encoded envelope.
const MaxFrameSize = 4 << 20

var ErrFrameTooLarge = errors.New("protocol: frame too large")

// UnknownKindError is returned for a well-formed frame whose kind this build
// does not know. The envelope header is still populated.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("protocol: unknown message kind %d", e.Kind)
}

// EncodeClient: uvarint(kind) uvarint(sequence) uvarint(client_tick) msgpack(body).
func EncodeClient(env ClientEnvelope) ([]byte, error) {
	if env.Msg == nil {
		return nil, fmt.Errorf("protocol: nil client message")
	}
	body, err := msgpack.Marshal(env.Msg)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", env.Msg, err)
	}
	b := make([]byte, 0, len(body)+3*binary.MaxVarintLen64)
	b = binary.AppendUvarint(b, uint64(env.Msg.Kind()))
	b = binary.AppendUvarint(b, env.Sequence)
	b = binary.AppendUvarint(b, env.ClientTick)
	b = append(b, body...)
	if len(b) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return b, nil
}

func DecodeClient(b []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	if len(b) > MaxFrameSize {
		return env, ErrFrameTooLarge
	}
	var hdr [3]uint64
	rest, err := readHeader(b, hdr[:])
	if err != nil {
		return env, err
	}
	env.Sequence = hdr[1]
	env.ClientTick = hdr[2]
	k := Kind(hdr[0])
	msg := newClientMessage(k)
	if msg == nil {
		return env, &UnknownKindError{Kind: k}
	}
	if err := msgpack.Unmarshal(rest, msg); err != nil {
		return env, fmt.Errorf("decode kind %d: %w", k, err)
	}
	env.Msg = msg
	return env, nil
}

// EncodeServer: uvarint(kind) uvarint(tick) msgpack(body).
func EncodeServer(env ServerEnvelope) ([]byte, error) {
	if env.Msg == nil {
		return nil, fmt.Errorf("protocol: nil server message")
	}
	body, err := msgpack.Marshal(env.Msg)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", env.Msg, err)
	}
	b := make([]byte, 0, len(body)+2*binary.MaxVarintLen64)
	b = binary.AppendUvarint(b, uint64(env.Msg.Kind()))
	b = binary.AppendUvarint(b, env.Tick)
	b = append(b, body...)
	if len(b) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return b, nil
}

func DecodeServer(b []byte) (ServerEnvelope, error) {
	var env ServerEnvelope
	if len(b) > MaxFrameSize {
		return env, ErrFrameTooLarge
	}
	var hdr [2]uint64
	rest, err := readHeader(b, hdr[:])
	if err != nil {
		return env, err
	}
	env.Tick = hdr[1]
	k := Kind(hdr[0])
	msg := newServerMessage(k)
	if msg == nil {
		return env, &UnknownKindError{Kind: k}
	}
	if err := msgpack.Unmarshal(rest, msg); err != nil {
		return env, fmt.Errorf("decode kind %d: %w", k, err)
	}
	env.Msg = msg
	return env, nil
}

func readHeader(b []byte, out []uint64) ([]byte, error) {
	for i := range out {
		v, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, fmt.Errorf("protocol: bad header varint %d", i)
		}
		out[i] = v
		b = b[n:]
	}
	return b, nil
}
