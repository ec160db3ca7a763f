package pkce

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateVerifierUsesUnreservedCharset(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		verifier, err := GenerateVerifier()
		if err != nil {
			t.Fatalf("GenerateVerifier: %v", err)
		}
		if len(verifier) != VerifierLength {
			t.Fatalf("len = %d, want %d", len(verifier), VerifierLength)
		}
		for _, r := range verifier {
			if !strings.ContainsRune(Charset, r) {
				t.Fatalf("verifier contains reserved character %q", r)
			}
		}
	}
}

func TestChallengeFromVerifier(t *testing.T) {
	t.Parallel()

	// RFC 7636 appendix B.
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	const want = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if got := ChallengeFromVerifier(verifier); got != want {
		t.Fatalf("challenge = %q, want %q", got, want)
	}
	if ChallengeFromVerifier(verifier) != ChallengeFromVerifier(verifier) {
		t.Fatal("challenge must be deterministic")
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(a.State) != StateLength {
		t.Fatalf("state length = %d", len(a.State))
	}
	if a.CodeChallenge != ChallengeFromVerifier(a.CodeVerifier) {
		t.Fatal("challenge does not match verifier")
	}
	if a.CodeVerifier == b.CodeVerifier || a.State == b.State {
		t.Fatal("two attempts produced identical material")
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGeneratorFailsLoudly(t *testing.T) {
	t.Parallel()

	g := Generator{Reader: brokenReader{}}
	if _, err := g.Generate(); err == nil {
		t.Fatal("expected error from broken random source")
	}
	if _, err := g.RandomString(StateLength); err == nil || !strings.Contains(err.Error(), "entropy exhausted") {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
	if _, err := RandomState(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
