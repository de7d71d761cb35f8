// Package ice implements candidate gathering, the STUN binding
// request/response exchange, per-connection write/receive state
// classification, and adaptive connectivity-check scheduling, per spec.md §3
// and §4.4-§4.6. Grounded in the teacher's internal/ice package (base.go,
// conn.go, agent.go, checklist.go), generalized from the teacher's
// goroutine-per-connection model into the reactor-owned model spec.md
// describes.
package ice

import (
	"crypto/rand"
	"math/big"
)

// Parameters is the ufrag/password pair exchanged via SDP, per spec.md §3.
// Immutable for the life of a connection.
type Parameters struct {
	Ufrag    string
	Password string
}

const ufragLength = 4
const pwdLength = 24

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewParameters generates a random local ufrag/password pair.
func NewParameters() Parameters {
	return Parameters{
		Ufrag:    randomAlphanumeric(ufragLength),
		Password: randomAlphanumeric(pwdLength),
	}
}

func randomAlphanumeric(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphanumeric))))
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b)
}
