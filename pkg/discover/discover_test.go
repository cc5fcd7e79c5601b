package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func collect(t *testing.T, s Source) []Target {
	t.Helper()
	var targets []Target
	err := s.Discover(context.Background(), func(tg Target) error {
		targets = append(targets, tg)
		return nil
	})
	if err != nil {
		t.Fatalf("%s Discover failed: %v", s.Name(), err)
	}
	return targets
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte{0}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWalkSourceFindsArchives(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "h1/services/disk/check_disk/perfdata/used_pct/value.wsp"))
	touch(t, filepath.Join(base, "h1/host/HOSTCHECK/hostalive/perfdata/rta/value.wsp"))
	touch(t, filepath.Join(base, "h2/services/procs/check_procs/perfdata/by_state/running/value.wsp"))
	// Files outside the layout are ignored.
	touch(t, filepath.Join(base, "notes.txt"))
	touch(t, filepath.Join(base, "h3/value.wsp"))
	touch(t, filepath.Join(base, "h4/archive/disk/check_disk/perfdata/x/value.wsp"))

	targets := collect(t, &WalkSource{Base: base})
	if len(targets) != 3 {
		t.Fatalf("want 3 targets, got %d: %+v", len(targets), targets)
	}

	byMetric := map[string]Target{}
	for _, tg := range targets {
		byMetric[tg.Ref.Metric] = tg
		if tg.EarliestTS != 0 {
			t.Errorf("walk targets carry no earliest timestamp, got %d", tg.EarliestTS)
		}
	}

	disk, ok := byMetric["used_pct"]
	if !ok {
		t.Fatal("used_pct not discovered")
	}
	if disk.Ref.Host != "h1" || disk.Ref.Service != "disk" || disk.Ref.CheckCommand != "check_disk" {
		t.Errorf("used_pct ref = %+v", disk.Ref)
	}

	host, ok := byMetric["rta"]
	if !ok {
		t.Fatal("rta not discovered")
	}
	if !host.Ref.IsHostCheck() {
		t.Errorf("rta should map back to a host check: %+v", host.Ref)
	}

	nested, ok := byMetric["by_state::running"]
	if !ok {
		t.Fatalf("nested metric not reverse-mapped: %v", byMetric)
	}
	if nested.Ref.CheckCommand != "check_procs" {
		t.Errorf("nested ref = %+v", nested.Ref)
	}
}

func TestWalkSourceVisitErrorStops(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "h1/services/a/c/perfdata/m1/value.wsp"))
	touch(t, filepath.Join(base, "h1/services/b/c/perfdata/m2/value.wsp"))

	boom := errors.New("stop here")
	visits := 0
	err := (&WalkSource{Base: base}).Discover(context.Background(), func(Target) error {
		visits++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want visit error back, got %v", err)
	}
	if visits != 1 {
		t.Errorf("enumeration must stop on the first error, visited %d", visits)
	}
}

func TestCSVSourceParsesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	content := "host.name,name,checkcommand_name,state.performance_data\n" +
		"h1,disk,check_disk,\"used_pct=12%;80;90;0;100 'load avg'=0.5;;;\"\n" +
		"h2,,hostalive,rta=0.02s;;;\n" +
		"h3,procs,check_procs,\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	targets := collect(t, &CSVSource{Path: path})
	if len(targets) != 3 {
		t.Fatalf("want 3 targets, got %d: %+v", len(targets), targets)
	}

	if targets[0].Ref.Metric != "used_pct" || targets[0].Ref.Host != "h1" {
		t.Errorf("target 0 = %+v", targets[0].Ref)
	}
	if targets[1].Ref.Metric != "load avg" {
		t.Errorf("quoted label lost its spaces: %+v", targets[1].Ref)
	}
	if targets[2].Ref.Service != "HOSTCHECK" || targets[2].Ref.Metric != "rta" {
		t.Errorf("empty service must map to a host check: %+v", targets[2].Ref)
	}
}

func TestCSVSourceRejectsWrongHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	content := "hostname,service,command,perfdata\nh1,disk,check_disk,used_pct=1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	visits := 0
	err := (&CSVSource{Path: path}).Discover(context.Background(), func(Target) error {
		visits++
		return nil
	})
	if err == nil {
		t.Fatal("wrong header must fail the enumeration")
	}
	if visits != 0 {
		t.Errorf("no row may be visited after a header mismatch, visited %d", visits)
	}
}

func TestCSVSourceMissingFile(t *testing.T) {
	err := (&CSVSource{Path: filepath.Join(t.TempDir(), "absent.csv")}).Discover(context.Background(), func(Target) error {
		return nil
	})
	if err == nil {
		t.Fatal("missing export must fail")
	}
}
