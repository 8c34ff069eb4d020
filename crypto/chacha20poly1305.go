package crypto

import (
	"fmt"

	"github.com/kevinburke/nacl"
	"golang.org/x/crypto/chacha20poly1305"
)

var zeroNonce12 = []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}

func SliceToKey(b []byte) nacl.Key {
	return nacl.Key(b)
}

func EncryptWithKey(key, msg, ad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("crypto: expected key of length %d, got %d", chacha20poly1305.KeySize, len(key))
	}
	cipher, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return cipher.Seal(nil, zeroNonce12, msg, ad), nil
}

func DecryptWithKey(key, enc, ad []byte) ([]byte, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("crypto: expected key of length %d, got %d", chacha20poly1305.KeySize, len(key))
	}
	cipher, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return cipher.Open(nil, zeroNonce12, enc, ad)
}
