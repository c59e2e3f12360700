//go:build mage

// pollmux build tasks.
// Install mage: go install github.com/magefile/mage@latest
// Run: mage [target]
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir    = "bin"
	benchPort = "18080"
)

var binaries = []struct{ name, path string }{
	{"server", "./cmd/server"},
	{"bench", "./cmd/bench"},
}

// Default target when running mage without arguments
var Default = Build

// ----------------------------------------------------------------------------
// Build targets
// ----------------------------------------------------------------------------

// Build builds all binaries (server, bench)
func Build() error {
	mg.Deps(BuildServer, BuildBench)
	return nil
}

// BuildServer builds the poll server binary
func BuildServer() error {
	return build("server", "./cmd/server", nil, "")
}

// BuildBench builds the load generator
func BuildBench() error {
	return build("bench", "./cmd/bench", nil, "")
}

// BuildLinux cross-compiles all binaries for Linux amd64 and arm64
func BuildLinux() error {
	return crossBuild("linux", "amd64", "arm64")
}

// BuildDarwin cross-compiles all binaries for macOS amd64 and arm64
func BuildDarwin() error {
	return crossBuild("darwin", "amd64", "arm64")
}

// BuildAll cross-compiles for all supported platforms
func BuildAll() error {
	mg.Deps(BuildLinux, BuildDarwin)
	return nil
}

func crossBuild(goos string, arches ...string) error {
	for _, arch := range arches {
		env := map[string]string{"GOOS": goos, "GOARCH": arch}
		for _, b := range binaries {
			if err := build(b.name, b.path, env, "-"+goos+"-"+arch); err != nil {
				return err
			}
		}
	}
	return nil
}

func build(name, pkg string, env map[string]string, suffix string) error {
	printGreen("Building %s%s...", name, suffix)
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return err
	}
	out := filepath.Join(binDir, name+suffix)
	if err := sh.RunWith(env, "go", "build", "-o", out, pkg); err != nil {
		return err
	}
	printGreen("Build complete: %s", out)
	return nil
}

// ----------------------------------------------------------------------------
// Code quality targets
// ----------------------------------------------------------------------------

// Lint runs golangci-lint
func Lint() error {
	printGreen("Running golangci-lint...")
	if err := ensureGolangciLint(); err != nil {
		return err
	}
	if err := sh.Run("golangci-lint", "run", "--timeout=5m", "./..."); err != nil {
		return err
	}
	printGreen("Linting complete")
	return nil
}

// Fmt formats Go code
func Fmt() error {
	printGreen("Formatting Go code...")
	return sh.Run("gofmt", "-s", "-w", ".")
}

// Vet runs go vet
func Vet() error {
	printGreen("Running go vet...")
	return sh.Run("go", "vet", "./...")
}

// Test runs unit and socket tests
func Test() error {
	printGreen("Running tests...")
	if err := sh.Run("go", "test", "-v", "./..."); err != nil {
		return err
	}
	printGreen("Tests complete")
	return nil
}

// TestRace runs the tests under the race detector
func TestRace() error {
	printGreen("Running tests with -race...")
	return sh.Run("go", "test", "-race", "./...")
}

// ----------------------------------------------------------------------------
// Benchmark targets
// ----------------------------------------------------------------------------

// Benchmark starts a local server and drives 10k chunked sessions against it
func Benchmark() error {
	mg.Deps(Build)
	return runAgainstLocalServer("-sessions", "10000", "-workers", "64", "-chunks", "3", "-gap", "1ms",
		"-expect", `HTTP/1.1 404 Not Found\r\n\r\n`)
}

// BenchmarkQuick runs a short fixed-duration benchmark for validation
func BenchmarkQuick() error {
	mg.Deps(Build)
	return runAgainstLocalServer("-duration", "5s")
}

func runAgainstLocalServer(args ...string) error {
	server := exec.Command(filepath.Join(binDir, "server"), "-port", benchPort, "-backlog", "1024")
	server.Stdout = os.Stdout
	server.Stderr = os.Stderr
	if err := server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer func() {
		_ = server.Process.Signal(os.Interrupt)
		_ = server.Wait()
	}()
	time.Sleep(200 * time.Millisecond)

	printGreen("Running benchmark...")
	args = append([]string{"-addr", "127.0.0.1:" + benchPort}, args...)
	return sh.RunV(filepath.Join(binDir, "bench"), args...)
}

// ----------------------------------------------------------------------------
// Dependency management
// ----------------------------------------------------------------------------

// Deps downloads Go dependencies
func Deps() error {
	printGreen("Downloading dependencies...")
	if err := sh.Run("go", "mod", "download"); err != nil {
		return err
	}
	if err := sh.Run("go", "mod", "tidy"); err != nil {
		return err
	}
	printGreen("Dependencies ready")
	return nil
}

// ----------------------------------------------------------------------------
// Meta targets
// ----------------------------------------------------------------------------

// Check runs all checks (deps, lint, vet, test, build)
func Check() error {
	mg.SerialDeps(Deps, Lint, Vet, Test, Build)
	printGreen("All checks passed")
	return nil
}

// Clean removes build artifacts
func Clean() error {
	printGreen("Cleaning...")
	if err := os.RemoveAll(binDir); err != nil {
		return err
	}
	matches, _ := filepath.Glob("results/*.json")
	for _, match := range matches {
		_ = os.Remove(match)
	}
	printGreen("Clean complete")
	return nil
}

// ----------------------------------------------------------------------------
// Helper functions
// ----------------------------------------------------------------------------

func printGreen(format string, args ...any) {
	color.Green(format, args...)
}

func printYellow(format string, args ...any) {
	color.Yellow(format, args...)
}

func ensureGolangciLint() error {
	_, err := exec.LookPath("golangci-lint")
	if err != nil {
		printYellow("golangci-lint not installed. Installing...")
		return sh.Run("go", "install", "github.com/golangci/golangci-lint/cmd/golangci-lint@latest")
	}
	return nil
}
