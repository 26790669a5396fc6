// Package result recovers a structured payload from a finished worker
// through two channels: the captured standard output, and a fallback
// file the worker is contractually expected to have written as well.
// Streams can be truncated or polluted by engine diagnostics; the file
// survives a worker that crashes after writing its result.
package result

import (
	"encoding/json"
	"os"
	"strings"
)

// Payload is the structured result recovered from a worker. A nil
// Payload means "no payload", which is not by itself an error; the
// caller decides whether that fails the job.
type Payload map[string]any

// OK reports the payload's own success flag.
func (p Payload) OK() bool {
	if p == nil {
		return false
	}
	ok, _ := p["ok"].(bool)
	return ok
}

// Resolve parses stdout as a JSON object, falling back to fallbackPath
// when stdout is empty or unparseable. A fallback file that yielded the
// payload is deleted best-effort; when stdout suffices the file is left
// alone for the caller's own cleanup.
func Resolve(stdout, fallbackPath string) Payload {
	if p := parse([]byte(stdout)); p != nil {
		return p
	}
	if fallbackPath == "" {
		return nil
	}
	b, err := os.ReadFile(fallbackPath)
	if err != nil {
		return nil
	}
	p := parse(b)
	if p != nil {
		_ = os.Remove(fallbackPath)
	}
	return p
}

func parse(b []byte) Payload {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil
	}
	return p
}
