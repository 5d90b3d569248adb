// Package ed25519 holds the node identity key. Keys and signatures are the
// standard library's; verification follows ZIP-215 so every node accepts the
// same set of peer certificates.
package ed25519

import (
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"io"

	consensus "github.com/hdevalence/ed25519consensus"
)

const (
	SeedSize       = stded25519.SeedSize
	PublicKeySize  = stded25519.PublicKeySize
	PrivateKeySize = stded25519.PrivateKeySize
	SignatureSize  = stded25519.SignatureSize
)

// Aliases keep x509 and tls handing back the same concrete types.
type (
	PublicKey  = stded25519.PublicKey
	PrivateKey = stded25519.PrivateKey
)

var ErrBadCertSignature = errors.New("certificate is not signed by its own ed25519 key")

func NewKeyFromSeed(seed []byte) PrivateKey {
	return stded25519.NewKeyFromSeed(seed)
}

// GenerateKey reads from crypto/rand when r is nil.
func GenerateKey(r io.Reader) (PublicKey, PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	return stded25519.GenerateKey(r)
}

func Sign(privateKey PrivateKey, message []byte) []byte {
	return stded25519.Sign(privateKey, message)
}

// Verify applies the ZIP-215 rules.
func Verify(publicKey PublicKey, message, sig []byte) bool {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return consensus.Verify(publicKey, message, sig)
}

// VerifySelfSigned checks that cert carries an ed25519 key and is signed by
// it. It returns the key.
func VerifySelfSigned(cert *x509.Certificate) (PublicKey, error) {
	pub, ok := cert.PublicKey.(PublicKey)
	if !ok {
		return nil, errors.New("certificate public key is not Ed25519")
	}
	if cert.SignatureAlgorithm != x509.PureEd25519 || !Verify(pub, cert.RawTBSCertificate, cert.Signature) {
		return nil, ErrBadCertSignature
	}
	return pub, nil
}
