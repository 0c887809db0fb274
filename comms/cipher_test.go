package comms

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	sealer, err := newSessionCipher(key)
	if err != nil {
		t.Fatalf("newSessionCipher: %v", err)
	}
	opener, err := newSessionOpener(key)
	if err != nil {
		t.Fatalf("newSessionOpener: %v", err)
	}

	for i := 0; i < 3; i++ {
		plaintext := []byte("message number")
		sealed, err := sealer.seal(plaintext)
		if err != nil {
			t.Fatalf("seal #%d: %v", i, err)
		}
		got, err := opener.open(sealed)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if string(got) != string(plaintext) {
			t.Errorf("open #%d = %q, want %q", i, got, plaintext)
		}
	}
}

func TestOpenRejectsNonceReuse(t *testing.T) {
	key, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	sealer, err := newSessionCipher(key)
	if err != nil {
		t.Fatalf("newSessionCipher: %v", err)
	}
	opener, err := newSessionOpener(key)
	if err != nil {
		t.Fatalf("newSessionOpener: %v", err)
	}

	sealed, err := sealer.seal([]byte("first"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := opener.open(sealed); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := opener.open(sealed); err == nil {
		t.Error("reusing the same sealed frame should be rejected as nonce reuse")
	}
}

func TestOpenRejectsFrameShorterThanNonce(t *testing.T) {
	key, err := NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	opener, err := newSessionOpener(key)
	if err != nil {
		t.Fatalf("newSessionOpener: %v", err)
	}
	if _, err := opener.open([]byte{1, 2, 3}); err == nil {
		t.Error("a frame shorter than the nonce size should be rejected")
	}
}
