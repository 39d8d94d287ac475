package command

import (
	"strings"
	"testing"
)

func TestEmptyLine(t *testing.T) {
	c, ok := Parse("")
	if !ok || c.Type != Empty {
		t.Fatalf("expected empty, got %+v ok=%v", c, ok)
	}
}

func TestTrig(t *testing.T) {
	c, ok := Parse("trig  @cam#thermal")
	if !ok {
		t.Fatalf("expected ok, err=%v", c.Err)
	}
	if c.Type != Trig || len(c.Xeids) != 1 {
		t.Fatalf("unexpected: %+v", c)
	}
	if c.Xeids[0].Eid() != "" || c.Xeids[0].Dname() != "cam" || c.Xeids[0].Dtype() != "thermal" {
		t.Fatalf("unexpected xeid: %+v", c.Xeids[0])
	}
}

func TestTrigInvalidXeid(t *testing.T) {
	c, ok := Parse("trig foo bar baz@@@")
	if ok {
		t.Fatal("expected failure")
	}
	if c.Type != Invalid {
		t.Fatalf("expected Invalid, got %v", c.Type)
	}
}

func TestSubWithMinPeriod(t *testing.T) {
	c, ok := Parse("sub foo@cam minperiod=500ms")
	if !ok {
		t.Fatalf("expected ok, err=%v", c.Err)
	}
	if c.Type != Sub || len(c.Xeids) != 1 {
		t.Fatalf("unexpected: %+v", c)
	}
	if c.Xeids[0].Eid() != "foo" || c.Xeids[0].Dname() != "cam" {
		t.Fatalf("unexpected xeid: %+v", c.Xeids[0])
	}
	if !c.HasMinPeriod || c.MinPeriodMs != 500 {
		t.Fatalf("expected minperiod=500, got %+v", c)
	}
}

func TestSubNoMinPeriod(t *testing.T) {
	c, ok := Parse("sub foo@cam")
	if !ok {
		t.Fatal("expected ok")
	}
	if c.HasMinPeriod {
		t.Fatal("expected no minperiod by default")
	}
}

func TestUnsubStar(t *testing.T) {
	c, ok := Parse("unsub *")
	if !ok || c.Type != Unsub || !c.All {
		t.Fatalf("unexpected: %+v ok=%v", c, ok)
	}
}

func TestUnsubIDs(t *testing.T) {
	c, ok := Parse("unsub 1 2 3")
	if !ok || c.Type != Unsub || c.All {
		t.Fatalf("unexpected: %+v ok=%v", c, ok)
	}
	if len(c.IDs) != 3 || c.IDs[0] != 1 || c.IDs[2] != 3 {
		t.Fatalf("unexpected ids: %+v", c.IDs)
	}
}

func TestUnsubStarWithTrailingArgsTooMany(t *testing.T) {
	c, ok := Parse("unsub * 5")
	if ok || c.Err == nil || !strings.Contains(c.Err.Error(), "too many arguments") {
		t.Fatalf("expected too-many-arguments error, got %+v ok=%v", c, ok)
	}
}

func TestPauseContinue(t *testing.T) {
	if c, ok := Parse("pause"); !ok || c.Type != Pause {
		t.Fatalf("unexpected: %+v ok=%v", c, ok)
	}
	if c, ok := Parse("continue"); !ok || c.Type != Continue {
		t.Fatalf("unexpected: %+v ok=%v", c, ok)
	}
}

func TestPauseTooManyArgs(t *testing.T) {
	c, ok := Parse("pause now")
	if ok {
		t.Fatal("expected failure")
	}
	if c.Type != Invalid || c.Err == nil {
		t.Fatalf("unexpected: %+v", c)
	}
}

func TestP2PAcceptDefault(t *testing.T) {
	c, ok := Parse("p2p-accept")
	if !ok || c.Type != P2PAccept || c.MaxConnections != defaultP2PMaxConnections {
		t.Fatalf("unexpected: %+v ok=%v", c, ok)
	}
}

func TestP2PAcceptExplicit(t *testing.T) {
	c, ok := Parse("p2p-accept maxconnections=5")
	if !ok || c.MaxConnections != 5 {
		t.Fatalf("unexpected: %+v ok=%v", c, ok)
	}
}

func TestP2PSendList(t *testing.T) {
	c, ok := Parse("1,2,3>n")
	if !ok {
		t.Fatalf("expected ok, err=%v", c.Err)
	}
	if c.Type != P2PSend || c.RecipientsAll {
		t.Fatalf("unexpected: %+v", c)
	}
	if len(c.Recipients) != 3 || c.Recipients[0] != 1 || c.Recipients[2] != 3 {
		t.Fatalf("unexpected recipients: %+v", c.Recipients)
	}
	if !c.UntilNewline {
		t.Fatal("expected UntilNewline")
	}
}

func TestP2PSendAllWithSize(t *testing.T) {
	c, ok := Parse("*>128")
	if !ok {
		t.Fatalf("expected ok, err=%v", c.Err)
	}
	if !c.RecipientsAll || c.UntilNewline || c.Size != 128 {
		t.Fatalf("unexpected: %+v", c)
	}
}

func TestNotAValidCommand(t *testing.T) {
	c, ok := Parse("frobnicate")
	if ok || c.Type != Invalid {
		t.Fatalf("expected invalid, got %+v ok=%v", c, ok)
	}
}
