package secure

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Alphabets accepted by Generate by name.
const (
	AlphabetAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	AlphabetHex          = "0123456789abcdef"
	AlphabetSymbols      = AlphabetAlphanumeric + "!#$%&*+-=?@^_"
)

// Alphabet resolves a named alphabet. Unknown names are used as the literal
// character set.
func Alphabet(name string) string {
	switch name {
	case "", "alphanumeric":
		return AlphabetAlphanumeric
	case "hex":
		return AlphabetHex
	case "symbols":
		return AlphabetSymbols
	}
	return name
}

// Generate returns a locked buffer holding length characters drawn uniformly
// from alphabet. The caller must Destroy the buffer.
func Generate(length int, alphabet string) (*memguard.LockedBuffer, error) {
	if length < 1 {
		return nil, fmt.Errorf("length must be positive, got %d", length)
	}
	if len(alphabet) < 2 || len(alphabet) > 256 {
		return nil, fmt.Errorf("alphabet must have between 2 and 256 characters, got %d", len(alphabet))
	}

	out := memguard.NewBuffer(length)
	dst := out.Bytes()

	// Rejection sampling keeps the distribution uniform when 256 is not a
	// multiple of the alphabet size.
	limit := 256 - (256 % len(alphabet))
	filled := 0
	for filled < length {
		rnd := memguard.NewBufferRandom(2 * length)
		for _, b := range rnd.Bytes() {
			if int(b) >= limit {
				continue
			}
			dst[filled] = alphabet[int(b)%len(alphabet)]
			filled++
			if filled == length {
				break
			}
		}
		rnd.Destroy()
	}

	return out, nil
}

// GenerateString is Generate for callers that need the value as a string.
// The locked buffer is wiped before returning.
func GenerateString(length int, alphabet string) (string, error) {
	buf, err := Generate(length, alphabet)
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}
