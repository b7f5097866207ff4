package password

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	phc, err := Hash(Default, "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(phc, "$argon2id$v=19$") {
		t.Fatalf("formato PHC inesperado: %s", phc)
	}
	if !Verify("correct horse battery staple", phc) {
		t.Fatal("password correcta rechazada")
	}
	if Verify("otra cosa", phc) {
		t.Fatal("password incorrecta aceptada")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, _ := Hash(Default, "misma-password")
	b, _ := Hash(Default, "misma-password")
	if a == b {
		t.Fatal("dos hashes idénticos: falta salt")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	for _, phc := range []string{"", "$argon2id$garbage", "$bcrypt$x", "plaintext"} {
		if Verify("x", phc) {
			t.Fatalf("hash malformado %q aceptado", phc)
		}
	}
}

func TestEmptyPasswordRejected(t *testing.T) {
	if _, err := Hash(Default, ""); err == nil {
		t.Fatal("password vacía debería fallar")
	}
}
