package scriptcatalog

import "testing"

func TestApplyMarkersRegisterUpsertsKeepingTimesUsed(t *testing.T) {
	c := New()
	c.ApplyMarkers("ZACE_SCRIPT_USE|deploy", 1)
	c.ApplyMarkers("ZACE_SCRIPT_REGISTER|deploy|scripts/deploy.sh|deploys the service", 2)

	m, ok := c.Get("deploy")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if m.TimesUsed != 1 {
		t.Fatalf("expected existing timesUsed preserved, got %d", m.TimesUsed)
	}
	if m.Path != "scripts/deploy.sh" || m.Purpose != "deploys the service" {
		t.Fatalf("expected register fields applied, got %+v", m)
	}
	if m.LastTouchedStep != 2 {
		t.Fatalf("expected lastTouchedStep updated to 2, got %d", m.LastTouchedStep)
	}
}

func TestApplyMarkersUseCreatesPlaceholderWhenUnknown(t *testing.T) {
	c := New()
	c.ApplyMarkers("ZACE_SCRIPT_USE|ghost", 5)

	m, ok := c.Get("ghost")
	if !ok {
		t.Fatal("expected placeholder entry created")
	}
	if m.TimesUsed != 1 || m.LastTouchedStep != 5 {
		t.Fatalf("expected placeholder use recorded, got %+v", m)
	}
}

func TestApplyMarkersUseIncrementsAcrossCalls(t *testing.T) {
	c := New()
	c.ApplyMarkers("ZACE_SCRIPT_REGISTER|build|scripts/build.sh|builds", 1)
	c.ApplyMarkers("ZACE_SCRIPT_USE|build", 2)
	c.ApplyMarkers("ZACE_SCRIPT_USE|build", 3)

	m, _ := c.Get("build")
	if m.TimesUsed != 2 {
		t.Fatalf("expected timesUsed 2, got %d", m.TimesUsed)
	}
}

func TestApplyMarkersIgnoresUnrelatedLines(t *testing.T) {
	c := New()
	c.ApplyMarkers("just some tool output\nanother line", 1)
	if len(c.All()) != 0 {
		t.Fatalf("expected no entries, got %+v", c.All())
	}
}

func TestSerializeTSVSortsByIDAndScrubsFields(t *testing.T) {
	c := New()
	c.ApplyMarkers("ZACE_SCRIPT_REGISTER|b|path/b|two\tword\npurpose", 1)
	c.ApplyMarkers("ZACE_SCRIPT_REGISTER|a|path/a|simple", 2)

	out := c.SerializeTSV()
	lines := splitForTest(out)
	if lines[0] != "id\tpath\tpurpose\tlast_touched_step\ttimes_used" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if len(lines) < 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), out)
	}
	if lines[1][:1] != "a" {
		t.Fatalf("expected entry a sorted first, got %q", lines[1])
	}
	if len(lines) != 3 {
		t.Fatalf("expected exactly 3 lines after scrubbing embedded tab/newline, got %d: %q", len(lines), out)
	}
}

func splitForTest(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

