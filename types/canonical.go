package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
)

// CanonicalBytes returns the exact byte sequence that is signed and
// verified for m.
//
// The message is flattened to its wire form; the signature and every absent
// or null field are removed; object keys are sorted at every level; output
// has no insignificant whitespace; strings are escaped to pure ASCII. Only
// integral numbers are accepted, at any magnitude. Empty lists and objects
// are kept. The result does not depend on the order in
// which the message's fields were populated.
func CanonicalBytes(m Message) ([]byte, error) {
	if isNil(m) {
		return nil, ErrNilMessage
	}
	bz, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", m, err)
	}
	return canonicalizeJSON(bz)
}

func canonicalizeJSON(bz []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(bz))
	dec.UseNumber()

	var tree map[string]interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode message tree: %w", err)
	}
	delete(tree, "signature")

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, val)
	case json.Number:
		n, ok := new(big.Int).SetString(val.String(), 10)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNonIntegralNumber, val)
		}
		buf.WriteString(n.String())
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k, child := range val {
			if child == nil {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value %T", v)
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// writeString emits s as a JSON string literal using only printable ASCII.
// Everything outside 0x20..0x7e is written as a lowercase \u escape, with
// surrogate pairs for code points above the BMP.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			switch {
			case r >= 0x20 && r <= 0x7e:
				buf.WriteByte(byte(r))
			case r > 0xffff:
				r -= 0x10000
				writeUnicodeEscape(buf, 0xd800|((r>>10)&0x3ff))
				writeUnicodeEscape(buf, 0xdc00|(r&0x3ff))
			default:
				writeUnicodeEscape(buf, r)
			}
		}
	}
	buf.WriteByte('"')
}

func writeUnicodeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xf])
	buf.WriteByte(hexDigits[(r>>8)&0xf])
	buf.WriteByte(hexDigits[(r>>4)&0xf])
	buf.WriteByte(hexDigits[r&0xf])
}
