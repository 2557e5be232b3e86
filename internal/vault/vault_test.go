package vault

import (
	"bytes"
	"strings"
	"testing"

	xerrors "OpenTrade-Bot/internal/errors"
)

const testMasterKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	plaintext := []byte("super secret key material")
	blob, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(blob, string(plaintext)) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	restored, err := v.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(restored, plaintext) {
		t.Fatalf("round trip mismatch: got %q", restored)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	v, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	first, err := v.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := v.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if first == second {
		t.Fatalf("two encryptions of the same plaintext must differ")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	v1, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	v2, err := New(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	blob, err := v1.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := v2.Decrypt(blob); err == nil {
		t.Fatalf("expected decrypt with wrong key to fail")
	} else if !xerrors.IsCode(err, xerrors.CodeCrypto) {
		t.Fatalf("expected CRYPTO error, got %v", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	v, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	for _, blob := range []string{"", "zz", "abcd"} {
		if _, err := v.Decrypt(blob); err == nil {
			t.Fatalf("expected decrypt of %q to fail", blob)
		}
	}
}

func TestNewRejectsBadMasterKey(t *testing.T) {
	for _, key := range []string{"", "abcd", strings.Repeat("z", 64)} {
		if _, err := New(key); err == nil {
			t.Fatalf("expected master key %q to be rejected", key)
		}
	}
}

func TestSelfTest(t *testing.T) {
	v, err := New(testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	if err := v.SelfTest(); err != nil {
		t.Fatalf("self test: %v", err)
	}
}
