// Package fixity computes and checks content digests while bytes stream
// through a reader.
package fixity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"sead/internal/sip"
)

// Canonical algorithm names.
const (
	MD5    = "MD5"
	SHA1   = "SHA-1"
	SHA256 = "SHA-256"
	SHA512 = "SHA-512"
)

var constructors = map[string]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	SHA512: sha512.New,
}

// Canonical maps an algorithm name or alias (e.g. "sha256", "SHA1") to its
// canonical form.
func Canonical(name string) (string, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "", "_", "").Replace(key)
	switch key {
	case "MD5":
		return MD5, true
	case "SHA1", "SHA":
		return SHA1, true
	case "SHA256":
		return SHA256, true
	case "SHA512":
		return SHA512, true
	}
	return "", false
}

// Supported lists the canonical algorithm names.
func Supported() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DigestReader hashes everything read through it.
type DigestReader struct {
	r         io.Reader
	order     []string
	hashes    map[string]hash.Hash
	bytesRead int64
}

// NewDigestReader wraps r so reads feed every supported algorithm in
// algorithms. Duplicates collapse; unsupported names are returned in skipped
// and otherwise ignored.
func NewDigestReader(r io.Reader, algorithms ...string) (*DigestReader, []string) {
	d := &DigestReader{hashes: make(map[string]hash.Hash)}
	var skipped []string
	writers := make([]io.Writer, 0, len(algorithms))
	for _, name := range algorithms {
		canonical, ok := Canonical(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		if _, dup := d.hashes[canonical]; dup {
			continue
		}
		h := constructors[canonical]()
		d.hashes[canonical] = h
		d.order = append(d.order, canonical)
		writers = append(writers, h)
	}
	if len(writers) == 0 {
		d.r = r
	} else {
		d.r = io.TeeReader(r, io.MultiWriter(writers...))
	}
	return d, skipped
}

func (d *DigestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.bytesRead += int64(n)
	return n, err
}

// BytesRead reports how many bytes passed through.
func (d *DigestReader) BytesRead() int64 { return d.bytesRead }

// Algorithms returns the canonical algorithms being computed, in request order.
func (d *DigestReader) Algorithms() []string {
	return append([]string(nil), d.order...)
}

// Sums returns lower-case hex digests of the bytes read so far, in request
// order.
func (d *DigestReader) Sums() []sip.Fixity {
	out := make([]sip.Fixity, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, sip.Fixity{Algorithm: name, Value: hex.EncodeToString(d.hashes[name].Sum(nil))})
	}
	return out
}

// MismatchError reports a declared digest that differs from the computed one.
type MismatchError struct {
	Algorithm string
	Declared  string
	Computed  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("fixity mismatch for %s: declared %s, computed %s", e.Algorithm, e.Declared, e.Computed)
}

// ErrorKind classifies the mismatch as a validation failure.
func (e *MismatchError) ErrorKind() string { return "validation" }

// Verify compares declared digests against computed ones. Declared values for
// algorithms that were not computed are ignored; comparison is case-insensitive.
func Verify(declared, computed []sip.Fixity) error {
	byAlg := make(map[string]string, len(computed))
	for _, fx := range computed {
		if name, ok := Canonical(fx.Algorithm); ok {
			byAlg[name] = fx.Value
		}
	}
	for _, fx := range declared {
		name, ok := Canonical(fx.Algorithm)
		if !ok {
			continue
		}
		value, ok := byAlg[name]
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(fx.Value), value) {
			return &MismatchError{Algorithm: name, Declared: fx.Value, Computed: value}
		}
	}
	return nil
}
