package collector

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// CommandCollector runs a local command and parses its standard output.
// Every non-empty line that is not a # comment must hold a metric name and a
// number separated by whitespace, '=' or ':'.
type CommandCollector struct {
	command string
	args    []string
	env     []string
	dir     string
}

func NewCommandCollector(command string, args []string, env map[string]string, dir string) (*CommandCollector, error) {
	if command == "" {
		return nil, fmt.Errorf("command collector requires a command")
	}
	c := &CommandCollector{command: command, args: args, dir: dir}
	for k, v := range env {
		c.env = append(c.env, fmt.Sprintf("%s=%s", k, v))
	}
	return c, nil
}

func (c *CommandCollector) Collect(ctx context.Context) (map[string]float64, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("failed to run command: %w", err)
	}

	return parseMetricLines(output)
}

func parseMetricLines(output []byte) (map[string]float64, error) {
	metrics := make(map[string]float64)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == '=' || r == ':' || r == ' ' || r == '\t'
		})
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected \"name value\", got %q", lineNo, line)
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value for %s: %w", lineNo, fields[0], err)
		}
		metrics[fields[0]] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read command output: %w", err)
	}
	return metrics, nil
}
