package hotstuff

import (
	"bytes"
	"encoding/binary"

	"github.com/hashicorp/go-msgpack/codec"
)

// encode encodes the data into msgpack bytes.
// Data can be of any type.
func encode(data interface{}) ([]byte, error) {
	buf := bytes.Buffer{}
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decode decodes msgpack bytes into the data.
// Data should be passed in the format of a pointer to a type.
func decode(s []byte, data interface{}) error {
	dec := codec.NewDecoderBytes(s, &codec.MsgpackHandle{})
	return dec.Decode(data)
}

// Store keys. The log is append-only except for the safety state record.
const (
	blockPrefix byte = iota + 1
	statePrefix
	tcPrefix
	qcPrefix
)

func blockKey(d Digest) []byte {
	return append([]byte{blockPrefix}, d[:]...)
}

func stateKey() []byte {
	return []byte{statePrefix}
}

func tcKey(round uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{tcPrefix}, round)
}

func qcKey(d Digest) []byte {
	return append([]byte{qcPrefix}, d[:]...)
}
