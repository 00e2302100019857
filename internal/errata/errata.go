package errata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Severity ranks a diagnostic note
type Severity int

const (
	SeverityDiag Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// LevelDiag is the slog level used for diagnostic notes. It sits below
// slog.LevelDebug so that "diag" verbosity is strictly more verbose than debug.
const LevelDiag = slog.Level(-8)

// String returns the verbosity name of the severity
func (s Severity) String() string {
	switch s {
	case SeverityDiag:
		return "diag"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Level maps the severity onto a slog level
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityDiag:
		return LevelDiag
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ParseLevel converts a --verbose value into a slog level
func ParseLevel(verbosity string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(verbosity)) {
	case "error":
		return slog.LevelError, nil
	case "warn":
		return slog.LevelWarn, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "diag":
		return LevelDiag, nil
	default:
		return 0, fmt.Errorf("unrecognized verbosity option: %s", verbosity)
	}
}

// Note is a single diagnostic message
type Note struct {
	Severity Severity
	Text     string
}

// Errata accumulates diagnostics produced by an operation. The zero value is
// an empty, OK result.
type Errata struct {
	notes []Note
}

func (e *Errata) add(s Severity, format string, args ...any) {
	e.notes = append(e.notes, Note{Severity: s, Text: fmt.Sprintf(format, args...)})
}

// Errorf records an error note
func (e *Errata) Errorf(format string, args ...any) { e.add(SeverityError, format, args...) }

// Warnf records a warning note
func (e *Errata) Warnf(format string, args ...any) { e.add(SeverityWarn, format, args...) }

// Infof records an informational note
func (e *Errata) Infof(format string, args ...any) { e.add(SeverityInfo, format, args...) }

// Diagf records a diagnostic note
func (e *Errata) Diagf(format string, args ...any) { e.add(SeverityDiag, format, args...) }

// Note merges the notes of other into e
func (e *Errata) Note(other Errata) {
	e.notes = append(e.notes, other.notes...)
}

// IsOK reports whether no error-severity note was recorded
func (e Errata) IsOK() bool {
	for _, n := range e.notes {
		if n.Severity >= SeverityError {
			return false
		}
	}
	return true
}

// Severity returns the highest severity recorded, SeverityDiag when empty
func (e Errata) Severity() Severity {
	highest := SeverityDiag
	for _, n := range e.notes {
		if n.Severity > highest {
			highest = n.Severity
		}
	}
	return highest
}

// Notes returns the recorded notes in order
func (e Errata) Notes() []Note {
	return e.notes
}

// Len returns the number of notes
func (e Errata) Len() int {
	return len(e.notes)
}

// Count returns the number of notes at exactly severity s
func (e Errata) Count(s Severity) int {
	n := 0
	for _, note := range e.notes {
		if note.Severity == s {
			n++
		}
	}
	return n
}

// Err joins the error-severity notes into an error, or nil if IsOK
func (e Errata) Err() error {
	var errs []error
	for _, n := range e.notes {
		if n.Severity >= SeverityError {
			errs = append(errs, errors.New(n.Text))
		}
	}
	return errors.Join(errs...)
}

// Log emits every note at its mapped level
func (e Errata) Log(logger *slog.Logger) {
	if logger == nil {
		return
	}
	for _, n := range e.notes {
		logger.Log(context.Background(), n.Severity.Level(), n.Text)
	}
}
