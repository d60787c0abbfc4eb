package scryfall

import (
	"bufio"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and appends every upstream
// request and response summary to a log file. Bodies are not dumped: card
// images and bulk downloads would swamp the log.
type LoggingTransport struct {
	Transport http.RoundTripper

	mu      sync.Mutex
	logFile *os.File
	writer  *bufio.Writer
}

// NewLoggingTransport opens logPath for appending and wraps transport. A
// nil transport falls back to http.DefaultTransport.
func NewLoggingTransport(transport http.RoundTripper, logPath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening API log file %s: %w", logPath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip performs the request and logs its headers and outcome.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	if dump, err := httputil.DumpRequestOut(req, false); err == nil {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", start.Format(time.RFC3339), dump))
	} else {
		log.WithError(err).Debug("Failed to dump upstream request for logging")
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Error after %v ---\n%v", duration, err))
		return resp, err
	}
	if dump, derr := httputil.DumpResponse(resp, false); derr == nil {
		t.writeLog(fmt.Sprintf("--- Response (%v) ---\n%s", duration, dump))
	}
	return resp, err
}

func (t *LoggingTransport) writeLog(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.WriteString(s + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing API log: %v\n", err)
		return
	}
	if err := t.writer.Flush(); err != nil {
		log.WithError(err).Warn("Failed to flush API log")
	}
}

// Close flushes and closes the log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		t.logFile.Close()
		return fmt.Errorf("flushing API log: %w", err)
	}
	return t.logFile.Close()
}
