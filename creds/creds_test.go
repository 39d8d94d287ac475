package creds

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFlatFileCheck(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, `creds.conf`)
	content := "# comment\ndev1:secret1:false\ndev2:secret2:true\n\n"
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	ff, err := NewFlatFile(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()

	if r, err := ff.Check("dev1", "secret1"); err != nil || !r.Trusted || r.MultiLogin {
		t.Fatalf("unexpected result for dev1: %+v err=%v", r, err)
	}
	if r, err := ff.Check("dev2", "secret2"); err != nil || !r.Trusted || !r.MultiLogin {
		t.Fatalf("unexpected result for dev2: %+v err=%v", r, err)
	}
	if r, err := ff.Check("dev1", "wrong"); err != nil || r.Trusted {
		t.Fatalf("expected rejection, got %+v err=%v", r, err)
	}
	if r, err := ff.Check("nosuchdevice", "x"); err != nil || r.Trusted {
		t.Fatalf("expected rejection for unknown device, got %+v err=%v", r, err)
	}
}

func TestFlatFileMalformedLine(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, `creds.conf`)
	if err := os.WriteFile(p, []byte("not-enough-fields\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFlatFile(p, nil); err == nil {
		t.Fatal("expected load error for malformed line")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	j := NewJWT("test-secret")
	tok, err := j.Sign("dev1", true)
	if err != nil {
		t.Fatal(err)
	}
	r, err := j.Check("dev1", tok)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Trusted || !r.MultiLogin {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestJWTWrongSubject(t *testing.T) {
	j := NewJWT("test-secret")
	tok, err := j.Sign("dev1", false)
	if err != nil {
		t.Fatal(err)
	}
	r, err := j.Check("dev2", tok)
	if err != nil {
		t.Fatal(err)
	}
	if r.Trusted {
		t.Fatal("expected rejection for mismatched subject")
	}
}

func TestJWTWrongSecret(t *testing.T) {
	j1 := NewJWT("secret-one")
	j2 := NewJWT("secret-two")
	tok, err := j1.Sign("dev1", false)
	if err != nil {
		t.Fatal(err)
	}
	r, err := j2.Check("dev1", tok)
	if err != nil {
		t.Fatal(err)
	}
	if r.Trusted {
		t.Fatal("expected rejection for token signed with a different secret")
	}
}
