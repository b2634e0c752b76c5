package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// FormatError reports an unparsable trace record. It halts loading: a
// trace the loader could not parse is never partially validated.
type FormatError struct {
	Line int
	Msg  string
}

func (e FormatError) Error() string {
	return fmt.Sprintf("trace format error at line %d: %s", e.Line, e.Msg)
}

// Parse reads a trace from a stream of JSON records, one per line.
// Blank lines and '#' comment lines are skipped. Records must carry a
// kind and a non-negative timestamp. Kinds beyond the ones the rules
// inspect are kept as-is, so traces from newer simulators still load.
func Parse(r io.Reader) (Trace, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var events []Event
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return Trace{}, FormatError{Line: line, Msg: err.Error()}
		}
		if e.Kind == "" {
			return Trace{}, FormatError{Line: line, Msg: "missing event kind"}
		}
		if e.Timestamp < 0 {
			return Trace{}, FormatError{Line: line, Msg: "negative timestamp"}
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return Trace{}, fmt.Errorf("read trace: %w", err)
	}
	return New(events), nil
}

// Load reads a trace file.
func Load(path string) (Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return Trace{}, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
