package crypto

import (
	"strings"
	"testing"
)

func TestGenerateMasterKey(t *testing.T) {
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate master key: %v", err)
	}
	key2, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate second master key: %v", err)
	}
	if key == "" || key == key2 {
		t.Fatal("Generated keys should be non-empty and unique")
	}
}

func TestSealOpen(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate master key: %v", err)
	}

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"NVR api key", "oZ3kq9Xw1Lr"},
		{"Long-lived token", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJpc3MiOiJhYmMifQ.sig"},
		{"Special chars", "p@ss:w0rd/+="},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := Seal(tc.plaintext, masterKey)
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if !IsSealed(sealed) || strings.Contains(sealed, tc.plaintext) {
				t.Fatalf("Sealed value %q does not look sealed", sealed)
			}

			opened, err := Open(sealed, masterKey)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if opened != tc.plaintext {
				t.Fatalf("Open mismatch: got %q, want %q", opened, tc.plaintext)
			}
		})
	}
}

func TestSealEmpty(t *testing.T) {
	sealed, err := Seal("", "unused")
	if err != nil || sealed != "" {
		t.Fatalf("Empty plaintext should stay empty, got %q, %v", sealed, err)
	}
}

func TestOpenPlainValue(t *testing.T) {
	got, err := Open("plain-api-key", "")
	if err != nil || got != "plain-api-key" {
		t.Fatalf("Plain values should pass through, got %q, %v", got, err)
	}
}

func TestOpenWrongKey(t *testing.T) {
	key1, _ := GenerateMasterKey()
	key2, _ := GenerateMasterKey()

	sealed, err := Seal("secret", key1)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := Open(sealed, key2); err == nil {
		t.Fatal("Open with the wrong key should fail")
	}
	if _, err := Open(sealed, ""); err == nil {
		t.Fatal("Open without a key should fail")
	}
	if _, err := Open(SealedPrefix+"!!notbase64", key1); err == nil {
		t.Fatal("Open of garbage should fail")
	}
}
