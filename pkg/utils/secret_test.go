package utils

import "testing"

func TestMaskSensitiveString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "*****"},
		{"sk-1234567890abcd", "sk-1*********abcd"},
	}
	for _, tt := range tests {
		if got := MaskSensitiveString(tt.in); got != tt.want {
			t.Fatalf("MaskSensitiveString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCipher_EncryptDecrypt(t *testing.T) {
	c := NewCipher("test-passphrase")

	sealed, err := c.Encrypt([]byte(`{"apiKey":"sk-test"}`))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if sealed == `{"apiKey":"sk-test"}` {
		t.Fatalf("Encrypt() returned plaintext")
	}

	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plain) != `{"apiKey":"sk-test"}` {
		t.Fatalf("Decrypt() = %q", plain)
	}
}

func TestCipher_WrongKeyFails(t *testing.T) {
	sealed, err := NewCipher("a").Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := NewCipher("b").Decrypt(sealed); err == nil {
		t.Fatalf("Decrypt() with wrong key succeeded")
	}
}

func TestParseLevel(t *testing.T) {
	if got := ParseLevel("DEBUG"); got.String() != "DEBUG" {
		t.Fatalf("ParseLevel(DEBUG) = %v", got)
	}
	if got := ParseLevel("bogus"); got.String() != "INFO" {
		t.Fatalf("ParseLevel(bogus) = %v", got)
	}
}
