package nodepath

import "testing"

func TestRebase(t *testing.T) {
	p := MustParse("/downstream/link/a")

	got, ok := p.Rebase(MustParse("/downstream/link"))
	if !ok || got.String() != "/a" {
		t.Errorf("Rebase(/downstream/link) = %q, %v; want /a, true", got, ok)
	}

	_, ok = p.Rebase(MustParse("/other"))
	if ok {
		t.Error("Rebase(/other) should fail for a mismatched prefix")
	}

	self := MustParse("/downstream/link")
	got, ok = self.Rebase(self)
	if !ok || got.String() != "/" {
		t.Errorf("Rebase(self) = %q, %v; want /, true", got, ok)
	}
}

func TestParentAndName(t *testing.T) {
	p := MustParse("/a/b/c")
	if p.Parent().String() != "/a/b" {
		t.Errorf("Parent() = %q, want /a/b", p.Parent())
	}
	if p.Name() != "c" {
		t.Errorf("Name() = %q, want c", p.Name())
	}
	if Root().Parent().String() != "/" {
		t.Error("Parent of root should be root")
	}
}

func TestParseRejectsIllegalCharacters(t *testing.T) {
	for _, raw := range []string{"/a/b?", "/a*b", `/a\b`, "/a:b", "/a|b", `/a"b`, "/a<b", "/a>b"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) should fail", raw)
		}
	}
}

func TestParseCollapsesDuplicateSeparators(t *testing.T) {
	p, err := Parse("/a//b///c")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.String() != "/a/b/c" {
		t.Errorf("Parse collapsed form = %q, want /a/b/c", p)
	}
}

func TestJoin(t *testing.T) {
	p, err := Root().Join("a")
	if err != nil || p.String() != "/a" {
		t.Fatalf("Join from root = %q, %v", p, err)
	}
	p2, err := p.Join("b")
	if err != nil || p2.String() != "/a/b" {
		t.Fatalf("Join nested = %q, %v", p2, err)
	}
}

func TestPatternMatch(t *testing.T) {
	pat, err := ParsePattern("/devices/*/status")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	if !pat.Match(MustParse("/devices/a/status")) {
		t.Error("expected match for /devices/a/status")
	}
	if pat.Match(MustParse("/devices/a/b/status")) {
		t.Error("did not expect match for /devices/a/b/status (segment count differs)")
	}
	if pat.Match(MustParse("/devices/a/config")) {
		t.Error("did not expect match for /devices/a/config")
	}
}

func TestPatternMatchesOnlyRoot(t *testing.T) {
	pat, err := ParsePattern("/")
	if err != nil {
		t.Fatalf("ParsePattern(/): %v", err)
	}
	if !pat.MatchesOnlyRoot() {
		t.Error("pattern '/' should match only root")
	}
}
