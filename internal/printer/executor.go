package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

var ErrPrintTimeout = errors.New("print command timed out")

const browserKioskWait = 5 * time.Second

// Executor prints a PDF by invoking the host OS print command. It blocks
// until the command exits or the deadline fires.
type Executor struct {
	goos    string
	timeout time.Duration

	// sumatraOverride returns the configured SumatraPDF path, empty when unset.
	sumatraOverride func() string

	stat     func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
	execRun  func(ctx context.Context, name string, args ...string) (string, error)
}

func NewExecutor(timeout time.Duration, sumatraOverride func() string) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if sumatraOverride == nil {
		sumatraOverride = func() string { return "" }
	}
	return &Executor{
		goos:            runtime.GOOS,
		timeout:         timeout,
		sumatraOverride: sumatraOverride,
		stat:            os.Stat,
		lookPath:        exec.LookPath,
		execRun:         runPrintCommand,
	}
}

// runPrintCommand executes argv directly, never through a shell, so paths and
// printer names cannot be spliced into a command string.
func runPrintCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

func (e *Executor) Print(ctx context.Context, pdfPath, printerName string, copies int) error {
	if copies < 1 {
		copies = 1
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.goos == "windows" {
		return e.printWindows(ctx, pdfPath, printerName)
	}
	return e.printLP(ctx, pdfPath, printerName, copies)
}

func (e *Executor) printLP(ctx context.Context, pdfPath, printerName string, copies int) error {
	args := []string{}
	if printerName != "" {
		args = append(args, "-d", printerName)
	}
	args = append(args, "-n", strconv.Itoa(copies), pdfPath)

	stderr, err := e.execRun(ctx, "lp", args...)
	if err != nil {
		return printError(ctx, "lp", stderr, err)
	}
	return nil
}

func (e *Executor) printWindows(ctx context.Context, pdfPath, printerName string) error {
	if sumatra := e.findSumatra(); sumatra != "" {
		args := []string{"-silent"}
		if printerName != "" {
			args = append(args, "-print-to", printerName)
		} else {
			args = append(args, "-print-to-default")
		}
		args = append(args, "-print-settings", "fit,center,paper=auto,bin=auto", pdfPath)

		stderr, err := e.execRun(ctx, sumatra, args...)
		if err != nil {
			return printError(ctx, "sumatra", stderr, err)
		}
		return nil
	}

	return e.printWindowsFallback(ctx, pdfPath)
}

// findSumatra resolves SumatraPDF.exe: configured path first, then the
// locations the installer places it in, then the working directory.
func (e *Executor) findSumatra() string {
	candidates := []string{}
	if p := e.sumatraOverride(); p != "" {
		candidates = append(candidates, p)
	}
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(dir, "resources", "sumatra", "SumatraPDF.exe"),
			filepath.Join(dir, "assets", "windows", "sumatra", "SumatraPDF.exe"),
		)
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, "sumatra", "SumatraPDF.exe"))
	}

	for _, c := range candidates {
		if info, err := e.stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// printWindowsFallback goes through the shell "print" verb, and failing that
// a kiosk-printing browser. The browser path is best effort: the process is
// force-terminated after a short wait and its exit is treated as success.
func (e *Executor) printWindowsFallback(ctx context.Context, pdfPath string) error {
	stderr, err := e.execRun(ctx, "powershell",
		"-NoProfile", "-WindowStyle", "Hidden", "-Command",
		"Start-Process -FilePath "+psQuote(pdfPath)+" -Verb Print -Wait",
	)
	if err == nil {
		return nil
	}
	log.Printf("[print] shell print verb failed, trying browser fallback: %v", err)

	browser := ""
	for _, name := range []string{"msedge", "chrome"} {
		if p, lookErr := e.lookPath(name); lookErr == nil {
			browser = p
			break
		}
	}
	if browser == "" {
		return printError(ctx, "print verb", stderr, err)
	}

	browserCtx, cancel := context.WithTimeout(ctx, browserKioskWait)
	defer cancel()
	_, _ = e.execRun(browserCtx, browser, "--kiosk-printing", "--no-first-run", pdfPath)
	log.Printf("[print] kiosk browser fallback used for %s, outcome is best effort", pdfPath)
	return nil
}

// psQuote wraps s in PowerShell single quotes, doubling embedded quotes.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func printError(ctx context.Context, tool, stderr string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w (%s)", ErrPrintTimeout, tool)
	}
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = err.Error()
	}
	return fmt.Errorf("%s: %s", tool, detail)
}
