package models

import (
	"crypto/rand"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mr-tron/base58"
)

// KeyLength is the number of random bytes behind generated identifiers
const KeyLength = 16

// GenerateKey returns n random bytes rendered in base58
func GenerateKey(n int) (string, error) {
	if n <= 0 {
		return "", errors.Newf("invalid key length %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to read random bytes")
	}
	return base58.Encode(buf), nil
}

// MustGenerateKey is GenerateKey for callers that cannot recover from an
// exhausted entropy source
func MustGenerateKey(n int) string {
	key, err := GenerateKey(n)
	if err != nil {
		panic(err)
	}
	return key
}

// GeneratedIdentifier is an IRI minted under a namespace from a random key
type GeneratedIdentifier struct {
	Namespace string
	Key       string
}

// NewGeneratedIdentifier mints an identifier with KeyLength bytes of entropy
func NewGeneratedIdentifier(namespace string) (GeneratedIdentifier, error) {
	key, err := GenerateKey(KeyLength)
	if err != nil {
		return GeneratedIdentifier{}, err
	}
	return GeneratedIdentifier{Namespace: namespace, Key: key}, nil
}

// IdentifierFor builds an identifier from an existing key
func IdentifierFor(namespace, key string) GeneratedIdentifier {
	return GeneratedIdentifier{Namespace: namespace, Key: key}
}

// IRI joins namespace and key
func (g GeneratedIdentifier) IRI() IRI {
	return IRI(JoinNamespace(g.Namespace, g.Key))
}

// JoinNamespace appends a local name to a namespace, inserting a separator
// when the namespace does not already end in one
func JoinNamespace(namespace, local string) string {
	if namespace == "" || strings.HasSuffix(namespace, "/") || strings.HasSuffix(namespace, "#") || strings.HasSuffix(namespace, ":") {
		return namespace + local
	}
	return namespace + "/" + local
}
