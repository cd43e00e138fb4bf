package python

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/aescanero/velodago/pkg/ports"
	"go.uber.org/zap"
)

//go:embed bridge.py
var bridgeScript string

// BridgeScript returns the embedded bridge source.
func BridgeScript() string {
	return bridgeScript
}

// Config holds interpreter backend configuration
type Config struct {
	// Provisioner supplies the interpreter. Ignored when Command is set.
	Provisioner *Provisioner

	// Command overrides the full bridge command line.
	Command []string

	// Env is appended to the inherited environment of every session.
	Env []string

	CloseTimeout time.Duration
	Logger       *zap.Logger
}

// Factory starts one bridge subprocess per session.
type Factory struct {
	provisioner  *Provisioner
	command      []string
	env          []string
	closeTimeout time.Duration
	logger       *zap.Logger
}

// NewFactory creates a new interpreter session factory
func NewFactory(cfg *Config) (*Factory, error) {
	if cfg.Provisioner == nil && len(cfg.Command) == 0 {
		return nil, fmt.Errorf("either a provisioner or a command is required")
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 10 * time.Second
	}
	return &Factory{
		provisioner:  cfg.Provisioner,
		command:      cfg.Command,
		env:          cfg.Env,
		closeTimeout: closeTimeout,
		logger:       cfg.Logger,
	}, nil
}

// NewSession provisions the environment if needed and starts a bridge.
func (f *Factory) NewSession(ctx context.Context) (ports.Session, error) {
	argv := f.command
	if len(argv) == 0 {
		python, err := f.provisioner.Ensure(ctx)
		if err != nil {
			return nil, err
		}
		argv = []string{python, "-u", "-c", bridgeScript}
	}

	env := append([]string{"PYTHONUNBUFFERED=1", "MPLBACKEND=Agg"}, f.env...)
	session, err := startSession(ctx, argv, env, f.closeTimeout, f.logger)
	if err != nil {
		return nil, err
	}
	return session, nil
}
