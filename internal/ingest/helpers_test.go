package ingest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"sync"
	"testing"
)

var (
	keyOnce   sync.Once
	signerKey *rsa.PrivateKey
	otherKey  *rsa.PrivateKey
	keyErr    error
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		signerKey, keyErr = rsa.GenerateKey(rand.Reader, 2048)
		if keyErr != nil {
			return
		}
		otherKey, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keyErr != nil {
		t.Fatalf("generate rsa key: %v", keyErr)
	}
	return signerKey, otherKey
}

func encodePublicKey(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

func sign(t *testing.T, key *rsa.PrivateKey, objectName string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(objectName))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func testTable(t *testing.T, namespaces ...string) *KeyTable {
	t.Helper()
	signer, _ := testKeys(t)
	raw := make(map[string]string, len(namespaces))
	for _, ns := range namespaces {
		raw[ns] = encodePublicKey(t, signer)
	}
	table, err := NewKeyTable(raw)
	if err != nil {
		t.Fatalf("key table: %v", err)
	}
	return table
}
