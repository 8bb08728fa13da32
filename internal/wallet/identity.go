// Package wallet resolves the optional user identity attached to a request:
// a Solana wallet address, optionally proven by a signed message, or a hashed
// API key.
package wallet

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

const (
	HeaderAddress   = "X-Wallet-Address"
	HeaderSignature = "X-Wallet-Signature"
	HeaderMessage   = "X-Wallet-Message"
	HeaderAPIKey    = "X-API-Key"
)

var (
	ErrInvalidAddress   = errors.New("wallet: invalid address")
	ErrInvalidSignature = errors.New("wallet: invalid signature")
)

// ParseAddress decodes a base58 wallet address.
func ParseAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, ErrInvalidAddress
	}
	pub, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return pub, nil
}

// VerifySignature checks a base58 ed25519 signature of message by pub.
func VerifySignature(pub solana.PublicKey, message, signature string) error {
	sig, err := solana.SignatureFromBase58(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub[:]), []byte(message), sig[:]) {
		return ErrInvalidSignature
	}
	return nil
}

// KeyID derives a stable, non-reversible identifier from an API key.
func KeyID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "key:" + base58.Encode(sum[:16])
}

// Identity is the caller behind a request. Verified is set for a wallet that
// signed its message and for an API key holder; a bare wallet address is only
// a claim.
type Identity struct {
	ID       string
	Verified bool
}

// Anonymous reports whether the request carried no identity.
func (i Identity) Anonymous() bool { return i.ID == "" }

// Resolve reads the identity of a request from its headers. A wallet address
// wins over an API key; when a signature is supplied it must verify.
func Resolve(h http.Header) (Identity, error) {
	if addr := h.Get(HeaderAddress); addr != "" {
		pub, err := ParseAddress(addr)
		if err != nil {
			return Identity{}, err
		}
		id := Identity{ID: "wallet:" + pub.String()}
		if sig := h.Get(HeaderSignature); sig != "" {
			if err := VerifySignature(pub, h.Get(HeaderMessage), sig); err != nil {
				return Identity{}, err
			}
			id.Verified = true
		}
		return id, nil
	}
	if key := strings.TrimSpace(h.Get(HeaderAPIKey)); key != "" {
		return Identity{ID: KeyID(key), Verified: true}, nil
	}
	return Identity{}, nil
}

// UserID returns the id Resolve finds. An empty id with a nil error means the
// request is anonymous.
func UserID(h http.Header) (string, error) {
	id, err := Resolve(h)
	return id.ID, err
}
