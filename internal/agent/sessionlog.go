package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"foreman/internal/events"
	"foreman/internal/log"
)

// sessionLog writes the per-session transcript file. Any write failure
// disables the log for the rest of the session; the agent run is never
// affected by logging problems.
type sessionLog struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	disabled bool
}

// newSessionLog creates the log file under logsDir. A mkdir or create
// failure returns a disabled log with an empty path.
func newSessionLog(logsDir string, role events.AgentRole, contextLabel string) *sessionLog {
	if logsDir == "" {
		return &sessionLog{disabled: true}
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		log.Warn(log.CatAgent, "Session log directory not creatable, logging disabled",
			"dir", logsDir, "error", err.Error())
		return &sessionLog{disabled: true}
	}

	name := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102-150405"), role)
	if contextLabel != "" {
		name += "-" + sanitizeLabel(contextLabel)
	}
	path := filepath.Join(logsDir, name+".log")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Warn(log.CatAgent, "Session log file not creatable, logging disabled",
			"path", path, "error", err.Error())
		return &sessionLog{disabled: true}
	}
	return &sessionLog{file: file, path: path}
}

func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, label)
}

// Path returns the log file path, or "" when logging is disabled.
func (l *sessionLog) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disabled {
		return ""
	}
	return l.path
}

// writeLine appends one line. Callers hold l.mu.
func (l *sessionLog) writeLine(line string) {
	if l.disabled {
		return
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		// Silent disable: the session keeps running.
		l.disabled = true
		_ = l.file.Close()
	}
}

// Header writes the session preamble and the message divider.
func (l *sessionLog) Header(role events.AgentRole, sessionID, contextLine string, startedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLine(fmt.Sprintf("Role: %s", role))
	l.writeLine(fmt.Sprintf("Session: %s", sessionID))
	if contextLine != "" {
		l.writeLine(contextLine)
	}
	l.writeLine(fmt.Sprintf("Started: %s", startedAt.UTC().Format(time.RFC3339)))
	l.writeLine("")
	l.writeLine("=== Messages ===")
}

// Text writes one assistant text chunk with a UTC timestamp.
func (l *sessionLog) Text(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLine(fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), text))
}

// ToolUse writes a tool invocation entry. Only the name, never the input.
func (l *sessionLog) ToolUse(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLine(fmt.Sprintf("[%s] TOOL %s", time.Now().UTC().Format(time.RFC3339), name))
}

// Unknown writes an unrecognized message verbatim.
func (l *sessionLog) Unknown(msgType string, raw json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLine(fmt.Sprintf("[%s] UNKNOWN %s %s", time.Now().UTC().Format(time.RFC3339), msgType, string(raw)))
}

// Footer writes the session epilogue and closes the file.
func (l *sessionLog) Footer(outcome string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLine("")
	l.writeLine("=== Session End ===")
	l.writeLine(fmt.Sprintf("Outcome: %s", outcome))
	l.writeLine(fmt.Sprintf("Finished: %s", time.Now().UTC().Format(time.RFC3339)))
	if !l.disabled && l.file != nil {
		_ = l.file.Close()
		l.disabled = true
	}
}
