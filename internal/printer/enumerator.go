package printer

import (
	"bytes"
	"context"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Info describes one installed printer.
type Info struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Status      string `json:"status"`
	IsDefault   bool   `json:"isDefault"`
}

type runFunc func(ctx context.Context, name string, args ...string) (string, error)

// Enumerator discovers installed printers by shelling out to the platform's
// printing tools. Failures are absorbed: List always returns a (possibly
// empty) slice.
type Enumerator struct {
	goos    string
	timeout time.Duration
	run     runFunc
}

func NewEnumerator(timeout time.Duration) *Enumerator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Enumerator{
		goos:    runtime.GOOS,
		timeout: timeout,
		run:     runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	return out.String(), err
}

// List enumerates printers under a single wall-clock deadline. On timeout it
// returns whatever has been collected so far.
func (e *Enumerator) List() []Info {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	var infos []Info
	switch e.goos {
	case "windows":
		infos = e.listWindows(ctx)
	case "darwin":
		infos = e.listDarwin(ctx)
	default:
		infos = e.listLpstat(ctx)
	}

	infos = dedupe(infos)
	if e.goos != "windows" {
		e.markDefault(ctx, infos)
	}
	return infos
}

func (e *Enumerator) listDarwin(ctx context.Context) []Info {
	if infos := e.listLpstat(ctx); len(infos) > 0 {
		return infos
	}

	out, err := e.run(ctx, "system_profiler", "SPPrintersDataType")
	if err != nil {
		log.Printf("[printers] system_profiler: %v", err)
		return nil
	}
	return parseSystemProfiler(out)
}

func (e *Enumerator) listLpstat(ctx context.Context) []Info {
	out, err := e.run(ctx, "lpstat", "-p")
	if err != nil {
		log.Printf("[printers] lpstat -p: %v", err)
	}
	if infos := parseLpstatP(out); len(infos) > 0 {
		return infos
	}

	out, err = e.run(ctx, "lpstat", "-a")
	if err != nil {
		log.Printf("[printers] lpstat -a: %v", err)
		return nil
	}
	return parseLpstatA(out)
}

func (e *Enumerator) listWindows(ctx context.Context) []Info {
	out, err := e.run(ctx, "wmic", "printer", "get", "name", "/value")
	if err != nil {
		log.Printf("[printers] wmic: %v", err)
		return nil
	}
	return parseWmic(out)
}

func (e *Enumerator) markDefault(ctx context.Context, infos []Info) {
	out, err := e.run(ctx, "lpstat", "-d")
	if err != nil {
		return
	}
	name := parseLpstatDefault(out)
	if name == "" {
		return
	}
	for i := range infos {
		if infos[i].Name == name {
			infos[i].IsDefault = true
		}
	}
}

// parseLpstatP reads "printer <name> is idle. ..." lines.
func parseLpstatP(out string) []Info {
	var infos []Info
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "printer ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		infos = append(infos, Info{
			Name:        name,
			DisplayName: name,
			Description: strings.TrimSpace(strings.TrimPrefix(line, "printer "+name)),
			Status:      "available",
		})
	}
	return infos
}

// parseLpstatA reads "<name> accepting requests since ..." lines.
func parseLpstatA(out string) []Info {
	var infos []Info
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "accepting" {
			continue
		}
		infos = append(infos, Info{
			Name:        fields[0],
			DisplayName: fields[0],
			Status:      "available",
		})
	}
	return infos
}

func parseSystemProfiler(out string) []Info {
	var infos []Info
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Printer Name:") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, "Printer Name:"))
		if name == "" {
			continue
		}
		infos = append(infos, Info{
			Name:        name,
			DisplayName: name,
			Status:      "available",
		})
	}
	return infos
}

// parseWmic reads "Name=<printer>" lines from wmic /value output.
func parseWmic(out string) []Info {
	var infos []Info
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Name=") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, "Name="))
		if name == "" {
			continue
		}
		infos = append(infos, Info{
			Name:        name,
			DisplayName: name,
			Status:      "available",
		})
	}
	return infos
}

func parseLpstatDefault(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "system default destination:"); idx >= 0 {
			return strings.TrimSpace(line[idx+len("system default destination:"):])
		}
	}
	return ""
}

func dedupe(infos []Info) []Info {
	seen := make(map[string]struct{}, len(infos))
	out := infos[:0]
	for _, info := range infos {
		if _, dup := seen[info.Name]; dup {
			continue
		}
		seen[info.Name] = struct{}{}
		out = append(out, info)
	}
	return out
}
