package python

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Package is one pinned requirement of the interpreter environment.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String renders the requirement in pip syntax.
func (p Package) String() string {
	return p.Name + "==" + p.Version
}

// DefaultPackages is the pinned scientific stack the bridge is tested with.
var DefaultPackages = []Package{
	{Name: "scvelo", Version: "0.2.5"},
	{Name: "anndata", Version: "0.8.0"},
	{Name: "scanpy", Version: "1.9.3"},
	{Name: "numpy", Version: "1.23.5"},
	{Name: "scipy", Version: "1.10.1"},
	{Name: "pandas", Version: "1.5.3"},
	{Name: "numba", Version: "0.56.4"},
	{Name: "matplotlib", Version: "3.6.3"},
	{Name: "h5py", Version: "3.8.0"},
}

// ParsePackages parses "name==version" requirements.
func ParsePackages(specs []string) ([]Package, error) {
	pkgs := make([]Package, 0, len(specs))
	for _, spec := range specs {
		name, version, ok := strings.Cut(strings.TrimSpace(spec), "==")
		if !ok || name == "" || version == "" {
			return nil, fmt.Errorf("invalid package pin %q (want name==version)", spec)
		}
		pkgs = append(pkgs, Package{Name: name, Version: version})
	}
	return pkgs, nil
}

const stampFile = ".velodago-env.json"

type stamp struct {
	Packages  []Package `json:"packages"`
	CreatedAt time.Time `json:"created_at"`
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// EnvironmentConfig describes the virtualenv to provision.
type EnvironmentConfig struct {
	Dir       string
	Bootstrap string
	Packages  []Package
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Provisioner creates the pinned virtualenv on first use. A stamp file in
// the environment records the installed pins; an environment whose stamp
// matches is reused as-is.
type Provisioner struct {
	dir       string
	bootstrap string
	packages  []Package
	timeout   time.Duration
	logger    *zap.Logger
	run       commandRunner

	mu    sync.Mutex
	ready bool
}

// NewProvisioner creates a new environment provisioner
func NewProvisioner(cfg *EnvironmentConfig) *Provisioner {
	pkgs := cfg.Packages
	if len(pkgs) == 0 {
		pkgs = DefaultPackages
	}
	return &Provisioner{
		dir:       cfg.Dir,
		bootstrap: cfg.Bootstrap,
		packages:  pkgs,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		run:       runCommand,
	}
}

// Interpreter returns the path of the environment's python executable.
func (p *Provisioner) Interpreter() string {
	return filepath.Join(p.dir, "bin", "python")
}

// Packages returns the pinned requirements.
func (p *Provisioner) Packages() []Package {
	return slices.Clone(p.packages)
}

// Ensure provisions the environment if needed and returns the interpreter
// path. A failed attempt is retried on the next call.
func (p *Provisioner) Ensure(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		return p.Interpreter(), nil
	}

	if p.stampMatches() {
		p.logger.Info("reusing interpreter environment", zap.String("dir", p.dir))
		p.ready = true
		return p.Interpreter(), nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	p.logger.Info("provisioning interpreter environment",
		zap.String("dir", p.dir),
		zap.Strings("packages", p.pins()))

	if err := os.MkdirAll(filepath.Dir(p.dir), 0o755); err != nil {
		return "", fmt.Errorf("failed to create environment parent: %w", err)
	}

	if out, err := p.run(ctx, p.bootstrap, "-m", "venv", "--clear", p.dir); err != nil {
		return "", fmt.Errorf("failed to create virtualenv: %w: %s", err, strings.TrimSpace(string(out)))
	}

	args := append([]string{"-m", "pip", "install", "--no-cache-dir", "--disable-pip-version-check"}, p.pins()...)
	if out, err := p.run(ctx, p.Interpreter(), args...); err != nil {
		return "", fmt.Errorf("failed to install packages: %w: %s", err, strings.TrimSpace(string(out)))
	}

	if err := p.writeStamp(); err != nil {
		return "", err
	}

	p.logger.Info("interpreter environment ready",
		zap.String("dir", p.dir),
		zap.Duration("duration", time.Since(start)))

	p.ready = true
	return p.Interpreter(), nil
}

func (p *Provisioner) pins() []string {
	pins := make([]string, len(p.packages))
	for i, pkg := range p.packages {
		pins[i] = pkg.String()
	}
	return pins
}

func (p *Provisioner) stampMatches() bool {
	data, err := os.ReadFile(filepath.Join(p.dir, stampFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("unreadable environment stamp", zap.Error(err))
		}
		return false
	}

	var st stamp
	if err := json.Unmarshal(data, &st); err != nil {
		p.logger.Warn("invalid environment stamp", zap.Error(err))
		return false
	}

	if !slices.Equal(st.Packages, p.packages) {
		return false
	}
	_, err = os.Stat(p.Interpreter())
	return err == nil
}

func (p *Provisioner) writeStamp() error {
	data, err := json.MarshalIndent(stamp{Packages: p.packages, CreatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stamp: %w", err)
	}
	if err := os.WriteFile(filepath.Join(p.dir, stampFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write stamp: %w", err)
	}
	return nil
}
