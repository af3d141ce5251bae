// Package provision checks that the external tools the converter runs are
// installed in acceptable versions and installs them with the system
// package manager when they are not.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-version"

	"github.com/wader/ffgif/internal/goffmpeg"
	"github.com/wader/ffgif/internal/goffmpeg/features"
)

// Constraint operators
const (
	OpEqual        = "=="
	OpGreaterEqual = ">="
)

// Constraint on an installed version. Operators other than == and >= are
// accepted and always satisfied.
type Constraint struct {
	Op      string
	Version *version.Version
	raw     string
}

// ParseConstraint parses "==X", ">=X" or anything else
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	for _, op := range []string{OpEqual, OpGreaterEqual} {
		if !strings.HasPrefix(s, op) {
			continue
		}
		v, err := version.NewVersion(strings.TrimSpace(s[len(op):]))
		if err != nil {
			return Constraint{}, fmt.Errorf("constraint %q: %w", s, err)
		}
		return Constraint{Op: op, Version: v, raw: s}, nil
	}
	return Constraint{raw: s}, nil
}

// MustParseConstraint is ParseConstraint that panics on error
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Satisfied reports if installed meets the constraint
func (c Constraint) Satisfied(installed *version.Version) bool {
	switch c.Op {
	case OpEqual:
		return installed != nil && installed.Equal(c.Version)
	case OpGreaterEqual:
		return installed != nil && installed.GreaterThanOrEqual(c.Version)
	default:
		return true
	}
}

func (c Constraint) String() string {
	return c.raw
}

// Requirement is a package that provides Binary
type Requirement struct {
	Package    string
	Binary     string
	Constraint Constraint
	// ForceReinstall adds the installer reinstall flags
	ForceReinstall bool
}

// DefaultRequirements are the tools the converter runs
func DefaultRequirements() []Requirement {
	return []Requirement{
		{Package: "ffmpeg", Binary: goffmpeg.FFmpegPath, Constraint: MustParseConstraint(">=4.0"), ForceReinstall: true},
		{Package: "ffmpeg", Binary: goffmpeg.FFprobePath, Constraint: MustParseConstraint(">=4.0")},
	}
}

// Installer is a package manager command line
type Installer struct {
	Command        []string
	ReinstallFlags []string
}

// DefaultInstaller installs with apt
var DefaultInstaller = Installer{
	Command:        []string{"apt-get", "install", "-y"},
	ReinstallFlags: []string{"--reinstall"},
}

// Args for installing req. Exact constraints are pinned as name=version.
func (i Installer) Args(req Requirement) []string {
	args := append([]string{}, i.Command...)
	if req.ForceReinstall {
		args = append(args, i.ReinstallFlags...)
	}
	pkg := req.Package
	if req.Constraint.Op == OpEqual {
		pkg += "=" + req.Constraint.Version.Original()
	}
	return append(args, pkg)
}

// InstallError is a failed installer run
type InstallError struct {
	Package string
	Args    []string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s: %s: %s", e.Package, strings.Join(e.Args, " "), e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// ExitCode of the installer, 1 if it did not exit normally
func (e *InstallError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}

// Status of an installed requirement
type Status int

const (
	StatusSatisfied Status = iota
	StatusMismatch
	StatusMissing
)

func (s Status) String() string {
	switch s {
	case StatusSatisfied:
		return "satisfied"
	case StatusMismatch:
		return "version mismatch"
	case StatusMissing:
		return "not installed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Resolver checks and installs requirements
type Resolver struct {
	Installer Installer
	// Stdout receives status lines and installer output
	Stdout io.Writer
	Logger hclog.Logger
}

func (r *Resolver) logger() hclog.Logger {
	if r.Logger == nil {
		return hclog.NewNullLogger()
	}
	return r.Logger
}

func (r *Resolver) stdout() io.Writer {
	if r.Stdout == nil {
		return io.Discard
	}
	return r.Stdout
}

// Check returns the installed version of req and its status. Installed is
// nil if the binary is missing or its version can not be parsed.
func (r *Resolver) Check(ctx context.Context, req Requirement) (installed *version.Version, status Status) {
	vp, err := features.ProgramVersion(ctx, req.Binary)
	if errors.Is(err, features.ErrUnknownVersion) {
		r.logger().Debug("unparsable version", "binary", req.Binary, "error", err)
		return nil, StatusMismatch
	} else if err != nil {
		r.logger().Debug("version query failed", "binary", req.Binary, "error", err)
		return nil, StatusMissing
	}

	// rebuild from parts, distribution suffixes would parse as prerelease
	v, err := version.NewVersion(vp.String())
	if err != nil {
		return nil, StatusMismatch
	}
	if !req.Constraint.Satisfied(v) {
		return v, StatusMismatch
	}
	return v, StatusSatisfied
}

// Resolve checks each requirement in order and installs the ones not
// satisfied. Stops at the first failed install.
func (r *Resolver) Resolve(ctx context.Context, reqs []Requirement) error {
	out := r.stdout()
	for _, req := range reqs {
		installed, status := r.Check(ctx, req)
		switch {
		case status == StatusMissing:
			fmt.Fprintf(out, "%s (%s) is not installed (required %s)\n", req.Binary, req.Package, req.Constraint)
		case installed == nil:
			fmt.Fprintf(out, "%s (%s) unknown version (required %s) - %s\n", req.Binary, req.Package, req.Constraint, status)
		default:
			fmt.Fprintf(out, "%s (%s) %s (required %s) - %s\n", req.Binary, req.Package, installed, req.Constraint, status)
		}
		if status == StatusSatisfied {
			continue
		}

		args := r.Installer.Args(req)
		if len(args) == 0 {
			return fmt.Errorf("no installer command for %s", req.Package)
		}
		fmt.Fprintf(out, "running: %s\n", strings.Join(args, " "))
		r.logger().Info("installing", "package", req.Package, "args", args)

		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Stdout = out
		cmd.Stderr = out
		if err := cmd.Run(); err != nil {
			return &InstallError{Package: req.Package, Args: args, Err: err}
		}
	}

	return nil
}

// Pipeline encoders and filters ffmpeg must provide
var (
	RequiredEncoders = []string{"gif", "rawvideo"}
	RequiredFilters  = []string{"setpts", "fps", "scale", "palettegen", "paletteuse"}
)

func missing(have []string, want []string) []string {
	hs := map[string]struct{}{}
	for _, h := range have {
		hs[h] = struct{}{}
	}
	var ms []string
	for _, w := range want {
		if _, ok := hs[w]; !ok {
			ms = append(ms, w)
		}
	}
	sort.Strings(ms)
	return ms
}

// Verify checks that ffmpeg has the encoders and filters used
func (r *Resolver) Verify(ctx context.Context) error {
	encoders, err := goffmpeg.Encoders(ctx)
	if err != nil {
		return fmt.Errorf("list encoders: %w", err)
	}
	filters, err := goffmpeg.Filters(ctx)
	if err != nil {
		return fmt.Errorf("list filters: %w", err)
	}

	var problems []string
	if ms := missing(encoders, RequiredEncoders); len(ms) > 0 {
		problems = append(problems, "encoders "+strings.Join(ms, ","))
	}
	if ms := missing(filters, RequiredFilters); len(ms) > 0 {
		problems = append(problems, "filters "+strings.Join(ms, ","))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s is missing %s", goffmpeg.FFmpegPath, strings.Join(problems, " and "))
	}

	r.logger().Debug("ffmpeg has required encoders and filters")
	fmt.Fprintf(r.stdout(), "%s provides required encoders and filters\n", goffmpeg.FFmpegPath)

	return nil
}
