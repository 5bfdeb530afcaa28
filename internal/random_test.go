package internal

import (
	"strings"
	"testing"
)

func TestRefreshTokenRoundTrip(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("token id generation failed: %v", err)
	}

	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("secret generation failed: %v", err)
	}

	encoded, err := EncodeRefreshToken(id, secret)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.ContainsAny(encoded, "+/=") {
		t.Fatalf("encoded token is not base64url: %q", encoded)
	}

	gotID, gotSecret, err := DecodeRefreshToken(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if gotID != id {
		t.Fatalf("token id mismatch: got %q want %q", gotID, id)
	}
	if gotSecret != secret {
		t.Fatalf("secret mismatch after round trip")
	}
}

func TestDecodeRefreshTokenRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not-base64!!!",
		"c2hvcnQ",
	}
	for _, tc := range cases {
		if _, _, err := DecodeRefreshToken(tc); err == nil {
			t.Fatalf("expected decode error for %q", tc)
		}
	}
}

func TestHashRefreshSecretDeterministic(t *testing.T) {
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("secret generation failed: %v", err)
	}

	if HashRefreshSecret(secret) != HashRefreshSecret(secret) {
		t.Fatal("hash must be deterministic")
	}

	other, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("secret generation failed: %v", err)
	}
	if HashRefreshSecret(secret) == HashRefreshSecret(other) {
		t.Fatal("distinct secrets produced identical hashes")
	}
}
