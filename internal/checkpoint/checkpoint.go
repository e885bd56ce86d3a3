package checkpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// DoneLogName lists tiles that completed, including blank predictions.
	DoneLogName = "images_done.txt"
	// ErrorLogName lists tiles whose read or postprocessing failed.
	ErrorLogName = "images_error.txt"
)

// State is the resume state read once at startup.
type State struct {
	Done    map[string]struct{}
	Errored map[string]struct{}
}

// Seen returns the union of done and errored tile names.
func (s *State) Seen() map[string]struct{} {
	seen := make(map[string]struct{}, len(s.Done)+len(s.Errored))
	for name := range s.Done {
		seen[name] = struct{}{}
	}
	for name := range s.Errored {
		seen[name] = struct{}{}
	}
	return seen
}

// Ledger is the durable record of processed tiles.
type Ledger interface {
	// Load reads the persisted done and error sets.
	Load(ctx context.Context) (*State, error)

	// MarkDone records a tile as successfully processed.
	MarkDone(ctx context.Context, name string) error

	// MarkError records a tile as failed.
	MarkError(ctx context.Context, name string) error

	// Close releases any resources.
	Close() error
}

// Config configures the ledger.
type Config struct {
	Backend     string // "file" | "postgres"
	Dir         string // output root holding the log files
	PostgresDSN string
	Scope       string // identifies the output root in a shared database
}

// NewLedger creates a ledger based on configuration.
func NewLedger(ctx context.Context, cfg Config) (Ledger, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileLedger(cfg.Dir)
	case "postgres":
		return NewPostgresLedger(ctx, cfg.PostgresDSN, cfg.Scope)
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Backend)
	}
}

// FileLedger keeps the resume state in two newline-delimited text files.
// Each append opens and closes the file so a crash loses at most the tile
// being written.
type FileLedger struct {
	dir string

	mu       sync.Mutex
	appended map[string]map[string]struct{} // log name -> names written this run
}

// NewFileLedger creates a file ledger in dir, creating the directory.
func NewFileLedger(dir string) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory %s: %w", dir, err)
	}
	return &FileLedger{
		dir: dir,
		appended: map[string]map[string]struct{}{
			DoneLogName:  {},
			ErrorLogName: {},
		},
	}, nil
}

// DonePath returns the path of the done log.
func (l *FileLedger) DonePath() string {
	return filepath.Join(l.dir, DoneLogName)
}

// ErrorPath returns the path of the error log.
func (l *FileLedger) ErrorPath() string {
	return filepath.Join(l.dir, ErrorLogName)
}

// Load reads both logs. Missing files are empty sets.
func (l *FileLedger) Load(ctx context.Context) (*State, error) {
	done, err := readNames(l.DonePath())
	if err != nil {
		return nil, err
	}
	errored, err := readNames(l.ErrorPath())
	if err != nil {
		return nil, err
	}
	return &State{Done: done, Errored: errored}, nil
}

// MarkDone appends name to the done log.
func (l *FileLedger) MarkDone(ctx context.Context, name string) error {
	return l.appendName(DoneLogName, name)
}

// MarkError appends name to the error log.
func (l *FileLedger) MarkError(ctx context.Context, name string) error {
	return l.appendName(ErrorLogName, name)
}

// Close is a no-op for the file ledger.
func (l *FileLedger) Close() error {
	return nil
}

func (l *FileLedger) appendName(logName, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("empty tile name")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.appended[logName][name]; ok {
		return nil
	}

	path := filepath.Join(l.dir, logName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(name + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	l.appended[logName][name] = struct{}{}
	return nil
}

// readNames reads one name per line, ignoring blank lines.
func readNames(path string) (map[string]struct{}, error) {
	names := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return names, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names[name] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return names, nil
}

// Verify FileLedger implements Ledger.
var _ Ledger = (*FileLedger)(nil)
