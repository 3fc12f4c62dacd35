// Package digest is the deterministic 64-bit hash shared by secondary-index keys and
// entity content hashes.
//
// Values are serialized to a canonical msgpack form and digested with xxhash64.
// Every map, including the maps msgpack writes for structs, is emitted with its
// entries ordered by encoded key. The unsigned digest is
// reinterpreted as int64 so it fits a signed BIGINT column.
package digest

import (
	"bytes"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Canonical returns the byte form that Of digests.
//
// msgpack only sorts a few map types, so v is encoded once, read back as a
// generic tree whose maps are sorted, and encoded again.
func Canonical(v any) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.SetMapDecoder(decodeSortedMap)
	tree, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type mapEntry struct {
	raw   []byte
	key   any
	value any
}

// sortedMap is a decoded map that encodes its entries in key order.
type sortedMap []mapEntry

func (m sortedMap) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(m)); err != nil {
		return err
	}
	for _, e := range m {
		if err := enc.Encode(e.key); err != nil {
			return err
		}
		if err := enc.Encode(e.value); err != nil {
			return err
		}
	}
	return nil
}

func decodeSortedMap(d *msgpack.Decoder) (any, error) {
	n, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}

	m := make(sortedMap, n)
	for i := range m {
		if m[i].key, err = d.DecodeInterface(); err != nil {
			return nil, err
		}
		if m[i].value, err = d.DecodeInterface(); err != nil {
			return nil, err
		}
		if m[i].raw, err = msgpack.Marshal(m[i].key); err != nil {
			return nil, err
		}
	}
	sort.Slice(m, func(i, j int) bool { return bytes.Compare(m[i].raw, m[j].raw) < 0 })
	return m, nil
}

// Sum digests already-canonical bytes.
func Sum(b []byte) int64 {
	return int64(xxhash.Sum64(b))
}

// Of hashes any msgpack-encodable value.
func Of(v any) (int64, error) {
	b, err := Canonical(v)
	if err != nil {
		return 0, err
	}
	return Sum(b), nil
}

// Text hashes a string key. Text(s) == Of(s).
func Text(s string) int64 {
	// strings always encode
	b, _ := Canonical(s)
	return Sum(b)
}

// Date hashes the UTC calendar day of t.
func Date(t time.Time) int64 {
	return Text(t.UTC().Format(time.DateOnly))
}

// Decode restores a value from its canonical bytes.
func Decode(b []byte, v any) error {
	return msgpack.Unmarshal(b, v)
}
