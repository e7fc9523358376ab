package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// hookEnv describes the run to hook commands. The after hooks also see
// the outcome.
func (r *Runner) hookEnv(suiteName string, result *RunResult) []string {
	vars := map[string]string{
		"PARITY_SUITE":    suiteName,
		"PARITY_ENV":      r.client.Env.Name,
		"PARITY_API1_URL": r.client.Env.APIImpl1.BaseURL,
		"PARITY_API2_URL": r.client.Env.APIImpl2.BaseURL,
	}
	if result != nil {
		vars["PARITY_RUN_ID"] = result.ID
		vars["PARITY_PASSED"] = strconv.Itoa(result.Passed)
		vars["PARITY_FAILED"] = strconv.Itoa(result.Failed)
	}
	environ := os.Environ()
	for k, v := range vars {
		environ = append(environ, k+"="+v)
	}
	return environ
}

// runHooks runs commands through sh in dir, in order, stopping at the
// first one that exits non-zero.
func (r *Runner) runHooks(ctx context.Context, stage string, commands []string, dir string, environ []string) error {
	for i, command := range commands {
		line := strings.TrimSpace(r.resolver.Resolve(command))
		if line == "" {
			continue
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", hookScript(line, dir))
		cmd.Dir = dir
		cmd.Env = environ

		logger := r.logger.WithField("hook", fmt.Sprintf("%s[%d]", stage, i))
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s hook %q: %w: %s", stage, command, err, strings.TrimSpace(string(out)))
		}
		logger.Debugf("ran %q", line)
		if len(out) > 0 {
			logger.Debug(strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// hookScript anchors a leading relative script path to dir, so
// "./seed.sh" and "seed.sh" both find the script next to the suite file.
func hookScript(line, dir string) string {
	name, rest, _ := strings.Cut(line, " ")
	switch {
	case strings.HasPrefix(name, "./"), strings.HasPrefix(name, "../"):
	case filepath.IsAbs(name), strings.ContainsRune(name, '/'):
		return line
	default:
		if _, err := exec.LookPath(name); err == nil {
			return line
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return line
		}
	}
	name = filepath.Join(dir, name)
	if rest == "" {
		return name
	}
	return name + " " + rest
}
