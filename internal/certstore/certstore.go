// Package certstore generates and rotates the self-signed DTLS certificate
// this endpoint advertises to every peer, per spec.md §4.7/§6. Grounded in
// the teacher's certificate.go generateCertificate, generalized from a
// 30-day, per-PeerConnection certificate into a single long-lived,
// read-only-shared-across-shards certificate that rotates on expiry rather
// than being regenerated per connection.
package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Validity is how long a generated certificate remains in service before
// Store regenerates it, per spec.md §6 ("1-year validity, regenerate on
// expiry").
const Validity = 365 * 24 * time.Hour

// renewMargin triggers regeneration this long before actual expiry, so a
// long-lived peer never straddles a certificate's NotAfter mid-session.
const renewMargin = 24 * time.Hour

// Entry is one generated certificate: the tls.Certificate handed to the
// DTLS engine, and its SHA-256 fingerprint in the colon-hex form SDP's
// a=fingerprint attribute uses.
type Entry struct {
	Certificate tls.Certificate
	Fingerprint string
	NotAfter    time.Time
}

// Store holds the current certificate, safe to read concurrently from every
// shard; it is regenerated lazily (not on a timer) the first time any shard
// asks for one past its renewal margin.
type Store struct {
	mu      sync.RWMutex
	current atomic.Value // holds *Entry
}

// New creates a store and eagerly generates its first certificate.
func New() (*Store, error) {
	s := &Store{}
	e, err := generate(time.Now())
	if err != nil {
		return nil, err
	}
	s.current.Store(e)
	return s, nil
}

// Current returns the in-service certificate, regenerating it first if it
// is within renewMargin of expiry.
func (s *Store) Current() (*Entry, error) {
	e := s.current.Load().(*Entry)
	if time.Now().Before(e.NotAfter.Add(-renewMargin)) {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: another goroutine may have already rotated.
	e = s.current.Load().(*Entry)
	if time.Now().Before(e.NotAfter.Add(-renewMargin)) {
		return e, nil
	}

	next, err := generate(time.Now())
	if err != nil {
		return nil, err
	}
	s.current.Store(next)
	return next, nil
}

// generate produces one self-signed ECDSA P-256 certificate, per the
// teacher's generateCertificate (same curve, same signature algorithm,
// same subject), with the 1-year validity SPEC_FULL.md calls for in place
// of the teacher's 30-day client-certificate lifetime.
func generate(now time.Time) (*Entry, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "certstore: generate key")
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, errors.Wrap(err, "certstore: generate serial number")
	}

	notBefore := now
	notAfter := now.Add(Validity)

	template := x509.Certificate{
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: "rtcendpoint"},
		NotBefore:          notBefore,
		NotAfter:           notAfter,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, errors.Wrap(err, "certstore: create certificate")
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}

	h := sha256.Sum256(der)
	return &Entry{
		Certificate: tlsCert,
		Fingerprint: colonHex(h[:]),
		NotAfter:    notAfter,
	}, nil
}

func colonHex(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, []byte(fmt.Sprintf("%02X", v))...)
	}
	return string(out)
}
