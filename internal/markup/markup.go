// Package markup converts legacy markup (Textile) to the target's Markdown.
// Conversion is delegated: either the text passes through unchanged, or an
// external command such as "pandoc -f textile -t gfm" transforms it.
package markup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Converter turns one legacy text into target markup.
type Converter interface {
	Convert(ctx context.Context, text string) (string, error)
}

// Passthrough returns text unchanged.
type Passthrough struct{}

// Convert implements Converter.
func (Passthrough) Convert(_ context.Context, text string) (string, error) {
	return text, nil
}

// Command pipes text through an external program on stdin/stdout.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a command line on whitespace. An empty line yields
// Passthrough.
func ParseCommand(line string) Converter {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Passthrough{}
	}
	return &Command{Name: fields[0], Args: fields[1:]}
}

// Convert implements Converter.
func (c *Command) Convert(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) // #nosec G204 -- operator-configured converter
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("converter %s failed: %s", c.Name, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("converter %s: %w", c.Name, err)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}
