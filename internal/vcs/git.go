// Package vcs reads git identity for the working tree a run was produced from.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Metadata identifies the source revision of a run.
type Metadata struct {
	Root   string
	Name   string
	Commit string
	Branch string
	Dirty  bool
}

// Runner executes git commands and returns trimmed stdout.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "no stderr"
		}
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Client reads repository metadata through a Runner.
type Client struct {
	runner Runner
}

// NewClient returns a client; a nil runner uses the git binary.
func NewClient(runner Runner) Client {
	if runner == nil {
		runner = execRunner{}
	}
	return Client{runner: runner}
}

// RepoRoot resolves the top-level directory containing startDir.
func (c Client) RepoRoot(ctx context.Context, startDir string) (string, error) {
	dir := strings.TrimSpace(startDir)
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		dir = wd
	}
	root, err := c.runner.Run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("discover git root: %w", err)
	}
	return root, nil
}

// Describe reads commit, branch and dirty state for the repo containing dir.
func (c Client) Describe(ctx context.Context, dir string) (Metadata, error) {
	root, err := c.RepoRoot(ctx, dir)
	if err != nil {
		return Metadata{}, err
	}
	commit, err := c.runner.Run(ctx, root, "rev-parse", "HEAD")
	if err != nil {
		return Metadata{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	branch, err := c.runner.Run(ctx, root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Metadata{}, fmt.Errorf("resolve branch: %w", err)
	}
	status, err := c.runner.Run(ctx, root, "status", "--porcelain")
	if err != nil {
		return Metadata{}, fmt.Errorf("check dirty state: %w", err)
	}
	return Metadata{
		Root:   root,
		Name:   filepath.Base(root),
		Commit: commit,
		Branch: branch,
		Dirty:  strings.TrimSpace(status) != "",
	}, nil
}

// Describe uses the git binary.
func Describe(ctx context.Context, dir string) (Metadata, error) {
	return NewClient(nil).Describe(ctx, dir)
}
