package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteStringEscapes(t *testing.T) {
	testCases := map[string]string{
		"plain":      `"laptop"`,
		"quote\"":    `"quote\""`,
		`back\slash`: `"back\\slash"`,
		"nl\n\r\t":   `"nl\n\r\t"`,
		"\b\f":       `"\b\f"`,
		"ctl\x01":    `"ctl\u0001"`,
		"del\x7f":    `"del\u007f"`,
		"é":          `"\u00e9"`,
		"😀":          `"\ud83d\ude00"`,
		"<&>":        `"<&>"`,
	}
	for in, want := range testCases {
		var buf bytes.Buffer
		writeString(&buf, in)
		require.Equal(t, want, buf.String(), "input %q", in)
	}
}
