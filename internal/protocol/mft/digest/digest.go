// Package digest provides the hash algorithms negotiated between MFT peers and
// the running accumulators used for whole-transfer integrity checks.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/blake2b"
	"lukechampine.com/blake3"
)

// Algorithm names a digest algorithm.
type Algorithm string

const (
	MD5     Algorithm = "MD5"
	SHA1    Algorithm = "SHA1"
	SHA256  Algorithm = "SHA256"
	SHA512  Algorithm = "SHA512"
	BLAKE2B Algorithm = "BLAKE2B"
	BLAKE3  Algorithm = "BLAKE3"
)

// Default is used when neither side configured an algorithm.
const Default = SHA256

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{MD5, SHA1, SHA256, SHA512, BLAKE2B, BLAKE3}

// Parse maps a case-insensitive name to an Algorithm.
func Parse(name string) (Algorithm, error) {
	n := Algorithm(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "")))
	for _, a := range Algorithms {
		if a == n {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown digest algorithm %q", name)
}

// New returns a fresh hash.Hash for a. Unknown algorithms fall back to Default.
func New(a Algorithm) hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA512:
		return sha512.New()
	case BLAKE2B:
		h, _ := blake2b.New512(nil)
		return h
	case BLAKE3:
		return blake3.New(32, nil)
	default:
		return sha256.New()
	}
}

// Sum hashes data in one shot.
func Sum(a Algorithm, data []byte) []byte {
	h := New(a)
	h.Write(data)
	return h.Sum(nil)
}

// Hex returns the lowercase hexadecimal form of sum.
func Hex(sum []byte) string { return hex.EncodeToString(sum) }

// SumReader hashes everything read from r.
func SumReader(a Algorithm, r io.Reader) ([]byte, error) {
	h := New(a)
	if _, err := io.Copy(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
