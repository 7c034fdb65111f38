package printer

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fakeRun(outputs map[string]string) runFunc {
	return func(ctx context.Context, name string, args ...string) (string, error) {
		key := name
		for _, a := range args {
			key += " " + a
		}
		if out, ok := outputs[key]; ok {
			return out, nil
		}
		return "", fmt.Errorf("command failed: %s", key)
	}
}

func newTestEnumerator(goos string, outputs map[string]string) *Enumerator {
	return &Enumerator{
		goos:    goos,
		timeout: time.Second,
		run:     fakeRun(outputs),
	}
}

func TestListLinuxLpstatP(t *testing.T) {
	e := newTestEnumerator("linux", map[string]string{
		"lpstat -p": "printer Office_Laser is idle.  enabled since Mon\nprinter Label_Printer disabled since Tue\n",
		"lpstat -d": "system default destination: Office_Laser\n",
	})

	infos := e.List()
	if len(infos) != 2 {
		t.Fatalf("List() returned %d printers, want 2", len(infos))
	}
	if infos[0].Name != "Office_Laser" || infos[1].Name != "Label_Printer" {
		t.Errorf("names = %s, %s", infos[0].Name, infos[1].Name)
	}
	if !infos[0].IsDefault {
		t.Error("Office_Laser not marked default")
	}
	if infos[1].IsDefault {
		t.Error("Label_Printer wrongly marked default")
	}
	if infos[0].DisplayName != "Office_Laser" {
		t.Errorf("displayName = %q, want name fallback", infos[0].DisplayName)
	}
}

func TestListFallsBackToLpstatA(t *testing.T) {
	e := newTestEnumerator("linux", map[string]string{
		"lpstat -p": "",
		"lpstat -a": "Basement_Inkjet accepting requests since Mon 01 Jan\n",
	})

	infos := e.List()
	if len(infos) != 1 || infos[0].Name != "Basement_Inkjet" {
		t.Fatalf("List() = %+v, want Basement_Inkjet", infos)
	}
}

func TestListDarwinSystemProfilerFallback(t *testing.T) {
	e := newTestEnumerator("darwin", map[string]string{
		"lpstat -p": "",
		"lpstat -a": "",
		"system_profiler SPPrintersDataType": `
Printers:

    HP_OfficeJet:

      Printer Name: HP_OfficeJet
      Status: Idle
`,
	})

	infos := e.List()
	if len(infos) != 1 || infos[0].Name != "HP_OfficeJet" {
		t.Fatalf("List() = %+v, want HP_OfficeJet", infos)
	}
}

func TestListWindowsWmic(t *testing.T) {
	e := newTestEnumerator("windows", map[string]string{
		"wmic printer get name /value": "\r\nName=Microsoft Print to PDF\r\n\r\nName=Brother HL-2270DW\r\n\r\n",
	})

	infos := e.List()
	if len(infos) != 2 {
		t.Fatalf("List() returned %d printers, want 2", len(infos))
	}
	if infos[0].Name != "Microsoft Print to PDF" {
		t.Errorf("name = %q", infos[0].Name)
	}
	if infos[1].Name != "Brother HL-2270DW" {
		t.Errorf("name = %q", infos[1].Name)
	}
}

func TestListDeduplicates(t *testing.T) {
	e := newTestEnumerator("linux", map[string]string{
		"lpstat -p": "printer Dup is idle.\nprinter Dup is idle.\n",
	})

	infos := e.List()
	if len(infos) != 1 {
		t.Fatalf("List() returned %d printers, want 1 after dedupe", len(infos))
	}
}

func TestListAbsorbsCommandFailures(t *testing.T) {
	e := newTestEnumerator("linux", map[string]string{})

	infos := e.List()
	if len(infos) != 0 {
		t.Fatalf("List() = %+v, want empty on command failure", infos)
	}
}

func TestListHonorsTimeout(t *testing.T) {
	e := &Enumerator{
		goos:    "linux",
		timeout: 20 * time.Millisecond,
		run: func(ctx context.Context, name string, args ...string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				return "printer Slow is idle.\n", nil
			}
		},
	}

	start := time.Now()
	infos := e.List()
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("List() took %v, deadline not enforced", elapsed)
	}
	if len(infos) != 0 {
		t.Fatalf("List() = %+v, want empty on timeout", infos)
	}
}
