package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestRoundtrip(t *testing.T) {
	b := Derive([32]byte{1, 2, 3})
	ct, err := b.Encrypt([]byte(`{"user":"ana"}`))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := b.Decrypt(ct)
	if err != nil {
		t.Fatal(err)
	}
	if string(pt) != `{"user":"ana"}` {
		t.Fatalf("plaintext = %q", pt)
	}
}

func TestTamperDetected(t *testing.T) {
	b := Derive([32]byte{1})
	ct, _ := b.Encrypt([]byte("x"))
	// flip del último caracter del ciphertext
	flip := "A"
	if strings.HasSuffix(ct, "A") {
		flip = "B"
	}
	if _, err := b.Decrypt(ct[:len(ct)-1] + flip); err == nil {
		t.Fatal("ciphertext adulterado aceptado")
	}
}

func TestWrongKeyFails(t *testing.T) {
	a := Derive([32]byte{1})
	b := Derive([32]byte{2})
	ct, _ := a.Encrypt([]byte("x"))
	if _, err := b.Decrypt(ct); err == nil {
		t.Fatal("clave incorrecta aceptada")
	}
}

func TestNewValidatesKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("key vacía aceptada")
	}
	if _, err := New(base64.StdEncoding.EncodeToString([]byte("corta"))); err == nil {
		t.Fatal("key de largo incorrecto aceptada")
	}
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	if _, err := New(key); err != nil {
		t.Fatalf("key válida rechazada: %v", err)
	}
}

func TestDecryptMalformed(t *testing.T) {
	b := Derive([32]byte{1})
	for _, ct := range []string{"", "sin-separador", "a|b", "!!!|!!!"} {
		if _, err := b.Decrypt(ct); err == nil {
			t.Fatalf("ciphertext malformado %q aceptado", ct)
		}
	}
}
