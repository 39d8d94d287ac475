package header

import (
	"strings"
	"testing"
)

func feedAll(p *Parser, lines ...string) state {
	var s state
	for _, l := range lines {
		s = p.FeedLine(l)
	}
	return s
}

func TestPlainRegistration(t *testing.T) {
	p := New()
	s := feedAll(p, "RIOTp 1.0", "name: dev1", "type: sensor", "password: x", "END")
	if s != Done {
		t.Fatal("expected Done")
	}
	if p.Err() != nil {
		t.Fatalf("unexpected error: %v", p.Err())
	}
	f := p.Fields()
	if f.Name != "dev1" || f.Type != "sensor" || f.Password != "x" {
		t.Fatalf("unexpected fields: %+v", f)
	}
	if f.NameFlag != FlagNormal || f.NamePolicy != PolicyStrong {
		t.Fatalf("unexpected defaults: %+v", f)
	}
	if !f.HasTimeout || f.TimeoutMs != defaultTimeoutMs {
		t.Fatalf("expected default timeout, got %+v", f)
	}
	if _, missing := p.Missing(); missing {
		t.Fatal("nothing should be missing")
	}
}

func TestMissingFirstLine(t *testing.T) {
	p := New()
	feedAll(p, "name: dev1", "END")
	if p.Err() == nil || !strings.Contains(p.Err().Error(), "RIOTp must appear first") {
		t.Fatalf("expected RIOTp-must-appear-first error, got %v", p.Err())
	}
}

func TestRIOTpReappearingIsRejected(t *testing.T) {
	p := New()
	feedAll(p, "RIOTp 1.0", "RIOTp 1.0", "name: dev1", "type: sensor", "END")
	if p.Err() == nil || !strings.Contains(p.Err().Error(), "RIOTp must appear first") {
		t.Fatalf("expected RIOTp-must-appear-first error, got %v", p.Err())
	}
}

func TestBadVersion(t *testing.T) {
	p := New()
	feedAll(p, "RIOTp abc", "END")
	if p.Err() == nil || !strings.Contains(p.Err().Error(), "not a valid version string") {
		t.Fatalf("expected version error, got %v", p.Err())
	}
}

func TestStickyErrorUntilEnd(t *testing.T) {
	p := New()
	s1 := p.FeedLine("RIOTp 1.0")
	if s1 != Continue {
		t.Fatal("expected Continue")
	}
	s2 := p.FeedLine("bogus directive here")
	if s2 != Continue {
		t.Fatal("error should still Continue, not fail parsing")
	}
	if p.Err() == nil {
		t.Fatal("expected sticky error to be recorded")
	}
	firstErr := p.Err()
	// further garbage should not overwrite the first error
	p.FeedLine("more garbage")
	if p.Err() != firstErr {
		t.Fatal("error should be sticky (first wins)")
	}
	s3 := p.FeedLine("END")
	if s3 != Done {
		t.Fatal("expected Done on END even with a sticky error")
	}
}

func TestNameFlagEnumerated(t *testing.T) {
	p := New()
	feedAll(p, "RIOTp 1.0", "name: dev enumerated", "type: sensor", "END")
	f := p.Fields()
	if f.NameFlag != FlagEnumerated {
		t.Fatalf("expected enumerated flag, got %v", f.NameFlag)
	}
}

func TestTimeoutInf(t *testing.T) {
	p := New()
	feedAll(p, "RIOTp 1.0", "name: dev1", "type: sensor", "timeout: inf", "END")
	f := p.Fields()
	if f.HasTimeout {
		t.Fatal("expected HasTimeout=false for inf")
	}
}

func TestMissingRequiredField(t *testing.T) {
	p := New()
	feedAll(p, "RIOTp 1.0", "name: dev1", "END")
	if p.Err() != nil {
		t.Fatalf("unexpected parse error: %v", p.Err())
	}
	field, missing := p.Missing()
	if !missing || field != "type" {
		t.Fatalf("expected type missing, got field=%q missing=%v", field, missing)
	}
}

func TestTooManyArguments(t *testing.T) {
	p := New()
	feedAll(p, "RIOTp 1.0 extra", "END")
	if p.Err() == nil || !strings.Contains(p.Err().Error(), "too many arguments") {
		t.Fatalf("expected too-many-arguments error, got %v", p.Err())
	}
}
