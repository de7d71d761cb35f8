package dtlstransport

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// verifyDigest checks cert's fingerprint, computed with the algorithm named
// in d, against d's bytes, per spec.md §4.7. Only sha-256 is supported;
// other algorithm names fail closed.
func verifyDigest(cert *x509.Certificate, d RemoteDigest) bool {
	if !strings.EqualFold(d.Algorithm, "sha-256") {
		return false
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:]) == hex.EncodeToString(d.Bytes)
}

// x509ParseFirst parses the first raw DER certificate in rawCerts, as
// supplied by dtls.Config's VerifyPeerCertificate callback.
func x509ParseFirst(rawCerts [][]byte) (*x509.Certificate, error) {
	if len(rawCerts) == 0 {
		return nil, errNoCertificate
	}
	return x509.ParseCertificate(rawCerts[0])
}

// mustParse parses raw DER bytes already known to be well-formed (having
// passed through the handshake once already); on error it returns nil, which
// verifyDigest's caller treats as a verification failure.
func mustParse(raw []byte) *x509.Certificate {
	cert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil
	}
	return cert
}

var errNoCertificate = errNoCertificateError{}

type errNoCertificateError struct{}

func (errNoCertificateError) Error() string { return "dtlstransport: no peer certificate presented" }
