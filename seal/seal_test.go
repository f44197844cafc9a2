package seal

import (
	"bytes"
	"errors"
	"testing"
)

func mustKeySet(t *testing.T, alg string) *KeySet {
	t.Helper()
	ks, err := GenerateKeySet(alg)
	if err != nil {
		t.Fatalf("GenerateKeySet(%s) failed: %v", alg, err)
	}
	return ks
}

func TestSealOpen(t *testing.T) {
	ks := mustKeySet(t, AlgCBCHMAC)

	cases := [][]byte{
		{},
		[]byte("a"),
		[]byte("exactly sixteen!"),
		bytes.Repeat([]byte{0x42}, 1000),
	}
	for _, pt := range cases {
		blob, err := Seal(pt, ks.EncKey(), ks.MACKey())
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		got, err := Open(blob, ks.EncKey(), ks.MACKey())
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("round trip mismatch: got %q, want %q", got, pt)
		}
	}
}

func TestSealIsRandomized(t *testing.T) {
	ks := mustKeySet(t, AlgCBCHMAC)
	pt := []byte("same plaintext every time")

	a, err := Seal(pt, ks.EncKey(), ks.MACKey())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Seal(pt, ks.EncKey(), ks.MACKey())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext produced identical blobs")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	ks := mustKeySet(t, AlgCBCHMAC)
	blob, err := Seal([]byte("attack at dawn"), ks.EncKey(), ks.MACKey())
	if err != nil {
		t.Fatal(err)
	}

	for i := range blob {
		tampered := bytes.Clone(blob)
		tampered[i] ^= 0x01
		if _, err := Open(tampered, ks.EncKey(), ks.MACKey()); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("byte %d flipped: expect ErrIntegrity, got %v", i, err)
		}
	}
}

func TestOpenRejectsTruncated(t *testing.T) {
	ks := mustKeySet(t, AlgCBCHMAC)
	blob, err := Seal([]byte("payload"), ks.EncKey(), ks.MACKey())
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, 7, 39, len(blob) - 1} {
		if _, err := Open(blob[:n], ks.EncKey(), ks.MACKey()); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("truncated to %d: expect ErrIntegrity, got %v", n, err)
		}
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	ks := mustKeySet(t, AlgCBCHMAC)
	other := mustKeySet(t, AlgCBCHMAC)

	blob, err := Seal([]byte("payload"), ks.EncKey(), ks.MACKey())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(blob, other.EncKey(), other.MACKey()); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expect ErrIntegrity, got %v", err)
	}
}

func TestKeySize(t *testing.T) {
	if _, err := Seal([]byte("x"), make([]byte, 16), make([]byte, 32)); !errors.Is(err, ErrKeySize) {
		t.Fatalf("expect ErrKeySize, got %v", err)
	}
}

func TestKeySetCombinedSplit(t *testing.T) {
	combined := make([]byte, CombinedSize)
	for i := range combined {
		combined[i] = byte(i)
	}
	ks, err := KeySetFromCombined(AlgCBCHMAC, combined)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ks.EncKey(), combined[:32]) {
		t.Errorf("EncKey is not the first half")
	}
	if !bytes.Equal(ks.MACKey(), combined[32:]) {
		t.Errorf("MACKey is not the second half")
	}
	if !bytes.Equal(ks.Combined(), combined) {
		t.Errorf("Combined does not round trip")
	}

	if _, err := KeySetFromCombined(AlgCBCHMAC, combined[:63]); err == nil {
		t.Fatal("expect error for 63-byte key")
	}
	if _, err := KeySetFromCombined("rot13", combined); err == nil {
		t.Fatal("expect error for unknown algorithm")
	}
}

func TestAEADImplementations(t *testing.T) {
	for _, alg := range []string{AlgCBCHMAC, AlgXChaCha} {
		t.Run(alg, func(t *testing.T) {
			a, err := ForAlgorithm(alg)
			if err != nil {
				t.Fatal(err)
			}
			ks := mustKeySet(t, alg)
			pt := []byte(`{"status":"ok"}`)

			c1, err := a.Seal(pt, ks)
			if err != nil {
				t.Fatal(err)
			}
			c2, err := a.Seal(pt, ks)
			if err != nil {
				t.Fatal(err)
			}
			if bytes.Equal(c1, c2) {
				t.Fatal("ciphertexts should differ")
			}

			got, err := a.Open(c1, ks)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, pt) {
				t.Fatalf("got %q, want %q", got, pt)
			}

			c1[len(c1)-1] ^= 0xff
			if _, err := a.Open(c1, ks); !errors.Is(err, ErrIntegrity) {
				t.Fatalf("expect ErrIntegrity, got %v", err)
			}

			stale := mustKeySet(t, alg)
			if _, err := a.Open(c2, stale); !errors.Is(err, ErrIntegrity) {
				t.Fatalf("stale key: expect ErrIntegrity, got %v", err)
			}
		})
	}
}

func TestAEADAlgorithmMismatch(t *testing.T) {
	ks := mustKeySet(t, AlgXChaCha)
	if _, err := (CBCHMAC{}).Seal([]byte("x"), ks); err == nil {
		t.Fatal("expect error sealing with a key set of another algorithm")
	}
}
