package config

import (
	"context"
	"os/exec"
	"strings"

	"github.com/canvasledger/cl/errors"
)

// ResolveToken returns the Canvas API token.
//
// Resolution order:
//  1. canvas.token (which CL_CANVAS_TOKEN overrides via env binding)
//  2. canvas.token_command, executed through the shell; the first line of
//     stdout is the token. This keeps tokens out of config files and lets
//     secret managers (1Password's op, pass, etc.) own them.
//
// The context bounds the token command, which may block on operator
// interaction (e.g. 1Password unlock prompts).
func (c *Config) ResolveToken(ctx context.Context) (string, error) {
	if c.Canvas.Token != "" {
		return c.Canvas.Token, nil
	}

	if c.Canvas.TokenCommand != "" {
		token, err := runTokenCommand(ctx, c.Canvas.TokenCommand)
		if err != nil {
			return "", errors.Wrap(err, "canvas.token_command failed")
		}
		return token, nil
	}

	return "", errors.WithHint(
		errors.Wrap(errors.ErrValidation, "no Canvas API token configured"),
		"set CL_CANVAS_TOKEN, or set canvas.token_command to a command that prints the token")
}

// runTokenCommand executes the configured command and returns the first
// line of its stdout
func runTokenCommand(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrapf(err, "running %q", command)
	}

	token, _, _ := strings.Cut(string(out), "\n")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.Newf("command %q produced no output", command)
	}

	return token, nil
}
