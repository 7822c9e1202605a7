package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultMaxSize is the size at which the log file is rotated.
	DefaultMaxSize = 10 * 1024 * 1024
	// DefaultMaxBackups is how many rotated files are kept.
	DefaultMaxBackups = 5
	// FileName is the name of the bot's log file.
	FileName = "surveybot.log"
)

// RotatingFile is an io.WriteCloser that rotates its file once it would grow
// past MaxSize. Rotated files are named <file>.1 (newest) to <file>.<MaxBackups>.
type RotatingFile struct {
	Filename   string
	MaxSize    int64 // bytes
	MaxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingFile creates a new RotatingFile. The file is opened on first write.
func NewRotatingFile(filename string, maxSize int64, maxBackups int) *RotatingFile {
	return &RotatingFile{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
}

func (r *RotatingFile) open() error {
	file, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	r.file = file
	r.size = info.Size()
	return nil
}

func (r *RotatingFile) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.size = 0
	return err
}

func (r *RotatingFile) rotate() error {
	if err := r.closeFile(); err != nil {
		return err
	}

	if r.MaxBackups > 0 {
		for i := r.MaxBackups - 1; i >= 1; i-- {
			os.Rename(fmt.Sprintf("%s.%d", r.Filename, i), fmt.Sprintf("%s.%d", r.Filename, i+1))
		}
		if err := os.Rename(r.Filename, r.Filename+".1"); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := os.Remove(r.Filename); err != nil && !os.IsNotExist(err) {
		return err
	}

	return r.open()
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			// Fall back to stderr so log lines are not lost.
			return os.Stderr.Write(p)
		}
	}

	if r.MaxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.MaxSize {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the current file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeFile()
}

// Setup points the standard logger at stderr and a rotating file in logDir.
// Callers close the returned file on shutdown.
func Setup(logDir string) (io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file := NewRotatingFile(filepath.Join(logDir, FileName), DefaultMaxSize, DefaultMaxBackups)

	log.SetOutput(io.MultiWriter(os.Stderr, file))
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	return file, nil
}
