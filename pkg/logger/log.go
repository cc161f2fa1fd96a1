package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

const fileTimeLayout = "2006-01-02 15:04:05"

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),                //Verbose
		color.New(color.FgWhite, color.Italic),                //Debug
		color.New(color.FgWhite),                              //Info
		color.New(color.FgHiGreen),                            //Success
		color.New(color.FgGreen, color.Italic),                //New
		color.New(color.FgYellow, color.Italic),               //Remove
		color.New(color.FgHiYellow),                           //Stop
		color.New(color.FgYellow, color.Underline),            //Warning
		color.New(color.FgHiRed, color.Bold),                  //Error
		color.New(color.FgHiRed, color.Bold, color.Underline), //PANIC
	}[e]
}

// ParseStatus converts a level name, as found in configuration, into
// the matching LogStatus. Matching is case-insensitive.
func ParseStatus(name string) (LogStatus, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "verbose":
		return VERBOSE, nil
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warning", "warn":
		return WARNING, nil
	case "error":
		return ERROR, nil
	}

	return INFO, fmt.Errorf("unknown log level %q", name)
}

// Logger is a named emitter. The formatted helpers exist so that a Logger
// can be handed to libraries which expect a Printf/Fatalf style logger
// (goose, sqldb-logger).
type Logger interface {
	Emit(LogStatus, string, ...interface{})
	Verbosef(string, ...interface{})
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
	Printf(string, ...interface{})
	Fatalf(string, ...interface{})
}

type loggerImpl struct {
	name string
	mgr  *Manager
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...interface{}) {
	l.mgr.Emit(status, l.name, message, interpolations...)
}

func (l *loggerImpl) Verbosef(m string, v ...interface{}) { l.Emit(VERBOSE, m, v...) }
func (l *loggerImpl) Debugf(m string, v ...interface{})   { l.Emit(DEBUG, m, v...) }
func (l *loggerImpl) Infof(m string, v ...interface{})    { l.Emit(INFO, m, v...) }
func (l *loggerImpl) Warnf(m string, v ...interface{})    { l.Emit(WARNING, m, v...) }
func (l *loggerImpl) Errorf(m string, v ...interface{})   { l.Emit(ERROR, m, v...) }
func (l *loggerImpl) Printf(m string, v ...interface{})   { l.Emit(INFO, ensureNewline(m), v...) }

// Fatalf emits the message and terminates the process.
func (l *loggerImpl) Fatalf(m string, v ...interface{}) {
	l.Emit(FATAL, ensureNewline(m), v...)
	l.mgr.Close()
	os.Exit(1)
}

// Manager owns the output sinks for every named Logger it hands out. A
// Manager is created once per run and passed down explicitly.
type Manager struct {
	mu        sync.Mutex
	minStatus LogStatus
	offset    int
	console   io.Writer
	file      io.WriteCloser
	now       func() time.Time
}

// NewManager creates a Manager which writes coloured lines to the console
// writer provided for every message at or above minStatus.
func NewManager(minStatus LogStatus, console io.Writer) *Manager {
	return &Manager{minStatus: minStatus, console: console, now: time.Now}
}

// Discard returns a Manager which drops everything. Used by tests.
func Discard() *Manager {
	return NewManager(FATAL+1, io.Discard)
}

// OpenFile attaches a persistent, append-only plain text sink. The
// directory is created if needed.
func (l *Manager) OpenFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = f

	return nil
}

func (l *Manager) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Manager) SetMinStatus(status LogStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minStatus = status
}

func (l *Manager) Get(name string) Logger {
	return &loggerImpl{name: name, mgr: l}
}

func (l *Manager) Emit(status LogStatus, name string, message string, interpolations ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if status < l.minStatus {
		return
	}

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	body := fmt.Sprintf(message, interpolations...)
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, body)

	status.Color().Fprint(l.console, msg)
	if l.file != nil {
		fmt.Fprintf(l.file, "%s %s", l.now().Format(fileTimeLayout), msg)
	}
}

func (l *Manager) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

func ensureNewline(m string) string {
	if strings.HasSuffix(m, "\n") {
		return m
	}

	return m + "\n"
}
