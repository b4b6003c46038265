package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"nsmigrate/internal/core/config"
	"nsmigrate/internal/core/ports"
)

const (
	maxRewriteStderr = 4 << 10
	fileVar          = "{file}"
)

// CommandRewriter hands each file to an external command. The absolute file
// path replaces every {file} argument, or is appended when there is none;
// the rewrite request arrives as JSON on stdin. The command must edit the
// file in place.
type CommandRewriter struct {
	argv    []string
	timeout time.Duration
}

var _ ports.Rewriter = (*CommandRewriter)(nil)

func NewCommandRewriter(cfg config.Execute) *CommandRewriter {
	return &CommandRewriter{argv: append([]string(nil), cfg.RewriteCommand...), timeout: cfg.RewriteTimeout}
}

func (r *CommandRewriter) Rewrite(ctx context.Context, req ports.RewriteRequest) error {
	if len(r.argv) == 0 {
		return fmt.Errorf("rewrite command is empty")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	target := filepath.Join(req.Root, filepath.FromSlash(req.Path))
	args := substituteFile(r.argv[1:], target)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.argv[0], args...)
	cmd.Dir = req.Root
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(),
		"NSMIGRATE_ROOT="+req.Root,
		"NSMIGRATE_FILE="+req.Path,
		"NSMIGRATE_PHASE="+strconv.Itoa(req.Phase),
		"NSMIGRATE_KIND="+string(req.Kind),
	)
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("rewrite of %s timed out after %s", req.Path, r.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxRewriteStderr {
			msg = msg[:maxRewriteStderr]
		}
		if msg != "" {
			return fmt.Errorf("rewrite of %s: %w: %s", req.Path, err, msg)
		}
		return fmt.Errorf("rewrite of %s: %w", req.Path, err)
	}
	return nil
}

func substituteFile(argv []string, target string) []string {
	out := make([]string, 0, len(argv)+1)
	found := false
	for _, a := range argv {
		if strings.Contains(a, fileVar) {
			found = true
			a = strings.ReplaceAll(a, fileVar, target)
		}
		out = append(out, a)
	}
	if !found {
		out = append(out, target)
	}
	return out
}
