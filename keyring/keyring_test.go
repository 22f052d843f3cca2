package keyring

import (
	"crypto/sha256"
	"os"
	"strings"
	"testing"
)

func withTestKey(t *testing.T) {
	t.Helper()
	prev := encryptionKey
	hash := sha256.Sum256([]byte("test-key"))
	encryptionKey = hash[:]
	t.Cleanup(func() { encryptionKey = prev })
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	withTestKey(t)

	plaintext := []byte(`{"relay":{"username":"user","password":"secret"}}`)
	encrypted, err := encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	if strings.Contains(string(encrypted), "secret") {
		t.Error("ciphertext leaks the plaintext")
	}

	decrypted, err := decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("round trip = %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptRejectsTampered(t *testing.T) {
	withTestKey(t)

	encrypted, err := encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	tampered := append([]byte("AAAA"), encrypted[4:]...)
	if _, err := decrypt(tampered); err == nil {
		t.Error("decrypt should reject tampered ciphertext")
	}
}

func TestDecryptRejectsShortInput(t *testing.T) {
	withTestKey(t)
	if _, err := decrypt([]byte("dG9vc2hvcnQ=")); err == nil {
		t.Error("decrypt should reject ciphertext shorter than the nonce")
	}
}

func TestStoreValidation(t *testing.T) {
	if err := Store("", Credentials{Username: "u", Password: "p"}); err == nil {
		t.Error("empty account should be rejected")
	}
	if err := Store("relay", Credentials{}); err == nil {
		t.Error("empty credentials should be rejected")
	}
	if _, err := Lookup(""); err == nil {
		t.Error("empty account lookup should be rejected")
	}
	if err := Delete(""); err == nil {
		t.Error("empty account delete should be rejected")
	}
}

func TestWriteAuthFile(t *testing.T) {
	path, err := WriteAuthFile(Credentials{Username: "user", Password: "pass"})
	if err != nil {
		t.Fatalf("WriteAuthFile() error = %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading auth file: %v", err)
	}
	if string(data) != "user\npass\n" {
		t.Errorf("auth file = %q, want username then password, one per line", data)
	}
}
