package crypto

import (
	crand "crypto/rand"
	"io"
)

// CReader returns the OS entropy reader used for key generation.
func CReader() io.Reader {
	return crand.Reader
}
