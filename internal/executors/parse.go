package executors

import (
	"encoding/json"
	"strings"
)

// parseMarker reports whether line is a terminal/progress marker and, if
// so, decodes its envelope's Type.
func parseMarker(line string) (string, []byte, bool) {
	trimmed := strings.TrimPrefix(line, markerPrefix)
	if trimmed == line {
		return "", nil, false
	}
	trimmed = strings.TrimSpace(trimmed)

	var env marker
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return "", nil, false
	}
	return env.Type, []byte(trimmed), true
}

func decodeVerdict(payload []byte) (Verdict, error) {
	var v Verdict
	err := json.Unmarshal(payload, &v)
	return v, err
}

func decodeFileEvent(payload []byte) (FileEvent, error) {
	var e FileEvent
	err := json.Unmarshal(payload, &e)
	return e, err
}

func decodeTestEvent(payload []byte) (TestEvent, error) {
	var e TestEvent
	err := json.Unmarshal(payload, &e)
	return e, err
}

func decodeCommitEvent(payload []byte) (CommitEvent, error) {
	var e CommitEvent
	err := json.Unmarshal(payload, &e)
	return e, err
}
