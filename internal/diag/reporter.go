package diag

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Reporter buffers source lines (for context-carrying diagnostics emitted
// by the builder generator's audit output) and prints Fatal diagnostics to
// stderr. Grounded on internal/errors/reporter.go's Reporter.
type Reporter struct {
	sourceCache map[string][]string
	errors      []*Fatal
	warnings    []*Fatal
}

// NewReporter creates an empty Reporter.
func NewReporter() *Reporter {
	return &Reporter{sourceCache: make(map[string][]string)}
}

// LoadSource caches filename's lines for later context printing.
func (r *Reporter) LoadSource(filename string) error {
	if _, ok := r.sourceCache[filename]; ok {
		return nil
	}
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	r.sourceCache[filename] = lines
	return nil
}

// SetSource registers in-memory source, used by tests.
func (r *Reporter) SetSource(filename, content string) {
	r.sourceCache[filename] = strings.Split(content, "\n")
}

// Report records a diagnostic by level.
func (r *Reporter) Report(f *Fatal) {
	if f.Level == LevelWarning {
		r.warnings = append(r.warnings, f)
		return
	}
	r.errors = append(r.errors, f)
}

// Errors returns all recorded error-level diagnostics.
func (r *Reporter) Errors() []*Fatal { return r.errors }

// HasErrors reports whether any error-level diagnostic was recorded.
func (r *Reporter) HasErrors() bool { return len(r.errors) > 0 }

// PrintAndAbort writes every recorded diagnostic to stderr and exits the
// process with status 1. cmd/deegen does not call it; its top-level
// recover prints the *Fatal with fmt.Fprintf.
func (r *Reporter) PrintAndAbort() {
	for _, w := range r.warnings {
		fmt.Fprintln(os.Stderr, w.Error())
	}
	for _, e := range r.errors {
		fmt.Fprintln(os.Stderr, e.Error())
	}
	os.Exit(1)
}
