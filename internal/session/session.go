// Package session implements the durable, replayable append-only log that backs a
// Turn Engine run. It gives turns a life beyond the in-memory Agent.Turns() slice:
// a session can be closed, reopened, and replayed from disk.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/turnstile/turnstile/internal/llmmodel"
	"github.com/turnstile/turnstile/internal/llmstream"
	"github.com/turnstile/turnstile/internal/q/health"
)

// ErrIO wraps failures from the underlying append/read operations.
var ErrIO = errors.New("session: io error")

const (
	recordKindMeta = "session_meta"
	recordKindItem = "item"
)

// Meta is the session header, written once as the first record.
type Meta struct {
	CreatedAt string `json:"created_at"` // RFC3339 with millisecond precision.
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	GitBranch string `json:"git_branch,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

type metaRecord struct {
	Kind string `json:"kind"`
	Meta
}

type itemRecord struct {
	Kind string  `json:"kind"`
	Item wireItem `json:"item"`
}

// Session is an append-only, newline-delimited-JSON journal rooted at Path.
type Session struct {
	Path string
	Meta Meta

	health.Ctx
}

// Open creates parent dirs and writes the meta header if path is empty or missing.
// On a non-empty file, the existing header is read and accepted as-is (meta is ignored).
func Open(path string, meta Meta, logger health.Ctx) (*Session, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("session: path is empty")
	}

	s := &Session{Path: path, Ctx: logger}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, logger.LogWrappedErr("session.open.mkdir", err, "path", path)
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.Size() > 0:
		existing, rerr := readMeta(path)
		if rerr != nil {
			return nil, logger.LogWrappedErr("session.open.read_meta", rerr, "path", path)
		}
		s.Meta = existing
		return s, nil
	case err != nil && !os.IsNotExist(err):
		return nil, logger.LogWrappedErr("session.open.stat", err, "path", path)
	}

	if strings.TrimSpace(meta.CreatedAt) == "" {
		meta.CreatedAt = time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	s.Meta = meta

	if err := writeHeader(path, meta); err != nil {
		return nil, logger.LogWrappedErr("session.open.write_header", err, "path", path)
	}
	return s, nil
}

func writeHeader(path string, meta Meta) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	rec := metaRecord{Kind: recordKindMeta, Meta: meta}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func readMeta(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec metaRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return Meta{}, nil // header unreadable; caller keeps empty Meta
		}
		if rec.Kind != recordKindMeta {
			return Meta{}, nil
		}
		return rec.Meta, nil
	}
	return Meta{}, scanner.Err()
}

// Append writes turn as an "item" record and fsyncs. Failures surface as ErrIO.
func (s *Session) Append(turn llmstream.Turn) error {
	if s == nil {
		return fmt.Errorf("session: nil session")
	}

	rec := itemRecord{Kind: recordKindItem, Item: toWireItem(turn)}
	b, err := json.Marshal(rec)
	if err != nil {
		return s.LogWrappedErr("session.append.marshal", err)
	}

	f, err := os.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return s.LogWrappedErr("session.append.open", health.Wrap("session.append", fmt.Errorf("%w: %v", ErrIO, err)))
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		return s.LogWrappedErr("session.append.write", health.Wrap("session.append", fmt.Errorf("%w: %v", ErrIO, err)))
	}
	if err := f.Sync(); err != nil {
		return s.LogWrappedErr("session.append.sync", health.Wrap("session.append", fmt.Errorf("%w: %v", ErrIO, err)))
	}
	return nil
}

// Iter replays every well-formed item record in order. A missing file yields an
// empty sequence, not an error. Blank lines are skipped. Lines that fail to decode
// as an item record (including a line that decodes as the header) are dropped. A
// final line lacking a trailing newline (a partial write) is discarded.
func (s *Session) Iter() ([]llmstream.Turn, error) {
	if s == nil {
		return nil, nil
	}

	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, s.LogWrappedErr("session.iter.read", health.Wrap("session.iter", fmt.Errorf("%w: %v", ErrIO, err)))
	}

	endsWithNewline := len(raw) > 0 && raw[len(raw)-1] == '\n'
	lines := strings.Split(string(raw), "\n")
	if endsWithNewline {
		lines = lines[:len(lines)-1]
	} else if len(lines) > 0 {
		// Discard the non-newline-terminated tail; it may be a partial write.
		lines = lines[:len(lines)-1]
	}

	var turns []llmstream.Turn
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec itemRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Kind != recordKindItem {
			continue
		}
		turn, ok := fromWireItem(rec.Item)
		if !ok {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Truncate clears the file and rewrites only the header.
func (s *Session) Truncate() error {
	if s == nil {
		return fmt.Errorf("session: nil session")
	}
	if err := writeHeader(s.Path, s.Meta); err != nil {
		return s.LogWrappedErr("session.truncate", health.Wrap("session.truncate", fmt.Errorf("%w: %v", ErrIO, err)))
	}
	return nil
}

// MetaFromModel builds a Meta header for modelID, stamped with the current time.
func MetaFromModel(modelID llmmodel.ModelID) Meta {
	return Meta{
		CreatedAt: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Model:     string(modelID),
		Provider:  string(modelID.ProviderID()),
	}
}
