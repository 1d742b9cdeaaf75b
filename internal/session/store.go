package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// JSONL record types. A thread file is one header line, one line per
// transcript message, and a footer with the final state. The footer is
// rewritten on every save so a crashed run still has a readable transcript.
const (
	recordHeader  = "header"
	recordMessage = "message"
	recordFooter  = "footer"
)

type jsonlRecord struct {
	RecordType string `json:"_type"`

	// Header fields.
	ThreadID        string    `json:"thread_id,omitempty"`
	CSVPath         string    `json:"csv_path,omitempty"`
	OriginalRequest string    `json:"original_request,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`

	// Message fields.
	*Message `json:",omitempty"`

	// Footer fields.
	Footer *State `json:"state,omitempty"`
}

// Store persists thread state.
type Store interface {
	Save(s *State) error
	Load(threadID string) (*State, error)
	List() ([]*State, error)
}

// FileStore keeps one JSONL file per thread under dir.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating thread directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(threadID string) string {
	return filepath.Join(fs.dir, threadID+".jsonl")
}

// Save writes the full thread file: header, messages, footer.
func (fs *FileStore) Save(s *State) error {
	f, err := os.Create(fs.path(s.ThreadID))
	if err != nil {
		return fmt.Errorf("creating thread file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeLine(w, jsonlRecord{
		RecordType:      recordHeader,
		ThreadID:        s.ThreadID,
		CSVPath:         s.CSVPath,
		OriginalRequest: s.OriginalRequest,
		CreatedAt:       s.CreatedAt,
	}); err != nil {
		return err
	}
	for i := range s.Messages {
		if err := writeLine(w, jsonlRecord{
			RecordType: recordMessage,
			Message:    &s.Messages[i],
		}); err != nil {
			return err
		}
	}
	if err := writeLine(w, jsonlRecord{RecordType: recordFooter, Footer: s}); err != nil {
		return err
	}
	return w.Flush()
}

func writeLine(w io.Writer, rec jsonlRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte{'\n'})
	return err
}

// Load reads a thread file back into State.
func (fs *FileStore) Load(threadID string) (*State, error) {
	f, err := os.Open(fs.path(threadID))
	if err != nil {
		return nil, fmt.Errorf("opening thread %s: %w", threadID, err)
	}
	defer f.Close()

	s := &State{}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading thread file: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if perr := parseLine(line, s); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
	}
	if s.ThreadID == "" {
		return nil, fmt.Errorf("thread %s: missing header", threadID)
	}
	return s, nil
}

func parseLine(line []byte, s *State) error {
	var rec jsonlRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("parsing thread record: %w", err)
	}
	switch rec.RecordType {
	case recordHeader:
		s.ThreadID = rec.ThreadID
		s.CSVPath = rec.CSVPath
		s.OriginalRequest = rec.OriginalRequest
		s.CreatedAt = rec.CreatedAt
	case recordMessage:
		if rec.Message != nil {
			s.Messages = append(s.Messages, *rec.Message)
		}
	case recordFooter:
		// Header identity and the accumulated messages stay; the footer
		// restores everything else. Field-wise copy because State carries a
		// mutex.
		if f := rec.Footer; f != nil {
			s.RewrittenRequest = f.RewrittenRequest
			s.ClarificationCount = f.ClarificationCount
			s.InClarificationMode = f.InClarificationMode
			s.IsRequestClarified = f.IsRequestClarified
			s.NeedsInput = f.NeedsInput
			s.InterruptMessage = f.InterruptMessage
			s.RequestingNode = f.RequestingNode
			s.VerificationFailure = f.VerificationFailure
			s.AppliedEdits = f.AppliedEdits
			s.LastNode = f.LastNode
			s.LastClarifierDecision = f.LastClarifierDecision
			s.LastVerdictStatus = f.LastVerdictStatus
			s.Status = f.Status
			s.UpdatedAt = f.UpdatedAt
		}
	}
	return nil
}

// List returns all stored threads, newest first.
func (fs *FileStore) List() ([]*State, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	var out []*State
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		s, err := fs.Load(id)
		if err != nil {
			continue // skip corrupt files rather than failing the listing
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
