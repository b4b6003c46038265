package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// configureLogging installs a text slog handler on w and, when logPath can
// be opened, mirrors records into it. The returned func closes the file.
func configureLogging(w io.Writer, logPath string, verbose bool) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	output := w
	closeFn := func() {}
	if logPath != "" {
		if f, err := openLogFile(logPath); err != nil {
			fmt.Fprintf(w, "warning: %v\n", err)
		} else {
			output = io.MultiWriter(w, f)
			closeFn = func() {
				slog.SetDefault(slog.New(slog.NewTextHandler(w, handlerOpts)))
				_ = f.Close()
			}
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(output, handlerOpts)))
	return closeFn
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir for %s: %w", logPath, err)
	}
	if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
		return nil, fmt.Errorf("refusing to write logs to symlink path %s", logPath)
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	return f, nil
}
