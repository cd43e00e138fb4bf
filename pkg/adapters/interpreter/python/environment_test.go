package python

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRunner records commands and creates the interpreter on "venv".
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	failPip  error
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, name+" "+strings.Join(args, " "))

	if len(args) >= 2 && args[1] == "venv" {
		dir := args[len(args)-1]
		if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(filepath.Join(dir, "bin", "python"), nil, 0o755)
	}
	if len(args) >= 2 && args[1] == "pip" && f.failPip != nil {
		return []byte("ERROR: No matching distribution found for scvelo==9.9.9"), f.failPip
	}
	return nil, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

func newTestProvisioner(t *testing.T, dir string, pkgs []Package, runner *fakeRunner) *Provisioner {
	t.Helper()
	p := NewProvisioner(&EnvironmentConfig{
		Dir:       dir,
		Bootstrap: "python3",
		Packages:  pkgs,
		Logger:    zaptest.NewLogger(t),
	})
	p.run = runner.run
	return p
}

func TestProvisionerEnsure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env")
	runner := &fakeRunner{}
	p := newTestProvisioner(t, dir, nil, runner)

	python, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bin", "python"), python)

	require.Len(t, runner.commands, 2)
	assert.Equal(t, "python3 -m venv --clear "+dir, runner.commands[0])
	assert.Contains(t, runner.commands[1], "-m pip install")
	assert.Contains(t, runner.commands[1], "scvelo==0.2.5")
	assert.Contains(t, runner.commands[1], "anndata==0.8.0")
	assert.FileExists(t, filepath.Join(dir, stampFile))

	// Ready environments are not provisioned again.
	_, err = p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, runner.count())
}

func TestProvisionerReusesMatchingStamp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env")

	first := &fakeRunner{}
	_, err := newTestProvisioner(t, dir, nil, first).Ensure(context.Background())
	require.NoError(t, err)

	second := &fakeRunner{}
	_, err = newTestProvisioner(t, dir, nil, second).Ensure(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.count())
}

func TestProvisionerRebuildsOnPinChange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env")

	_, err := newTestProvisioner(t, dir, nil, &fakeRunner{}).Ensure(context.Background())
	require.NoError(t, err)

	runner := &fakeRunner{}
	pins := []Package{{Name: "scvelo", Version: "0.3.0"}}
	_, err = newTestProvisioner(t, dir, pins, runner).Ensure(context.Background())
	require.NoError(t, err)
	require.Len(t, runner.commands, 2)
	assert.True(t, strings.HasSuffix(runner.commands[1], "scvelo==0.3.0"))
}

func TestProvisionerRetriesAfterFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "env")
	runner := &fakeRunner{failPip: errors.New("exit status 1")}
	p := newTestProvisioner(t, dir, nil, runner)

	_, err := p.Ensure(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to install packages")
	assert.Contains(t, err.Error(), "No matching distribution")
	assert.NoFileExists(t, filepath.Join(dir, stampFile))

	runner.failPip = nil
	_, err = p.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, runner.count())
}

func TestParsePackages(t *testing.T) {
	pkgs, err := ParsePackages([]string{"scvelo==0.2.5", " numpy==1.23.5 "})
	require.NoError(t, err)
	assert.Equal(t, []Package{
		{Name: "scvelo", Version: "0.2.5"},
		{Name: "numpy", Version: "1.23.5"},
	}, pkgs)

	for _, bad := range []string{"scvelo", "scvelo>=0.2", "==1.0", "scvelo=="} {
		_, err := ParsePackages([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestDefaultPackagesPinned(t *testing.T) {
	p := NewProvisioner(&EnvironmentConfig{Dir: t.TempDir(), Logger: zaptest.NewLogger(t)})
	assert.Equal(t, DefaultPackages, p.Packages())
	for _, pkg := range p.Packages() {
		assert.NotEmpty(t, pkg.Version, pkg.Name)
	}
}
