// Sseview CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
package main

import (
	"context"

	"dagger/sseview/internal/dagger"
)

// Sseview is the main module for the sseview CI/CD pipeline
type Sseview struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Sseview CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", ".devenv", "build", "tmp", "_examples"]
	source *dagger.Directory,
) *Sseview {
	return &Sseview{
		Source: source,
	}
}

// goContainer returns an Alpine Go container with the project source mounted.
// Nothing in sseview needs CGO.
func (s *Sseview) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-alpine").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", s.Source)
}

// Test runs the sseview unit tests via "go test"
//
// +check
func (s *Sseview) Test(ctx context.Context) (string, error) {
	return s.goContainer().
		WithExec([]string{"go", "test", "./..."}).
		Stdout(ctx)
}

// TestRace runs the unit tests with the race detector, which needs CGO.
func (s *Sseview) TestRace(ctx context.Context) (string, error) {
	return dag.Container().
		From("golang:1.25-bookworm").
		WithEnvVariable("CGO_ENABLED", "1").
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build-race")).
		WithWorkdir("/src").
		WithDirectory("/src", s.Source).
		WithExec([]string{"go", "test", "-race", "./pkg/...", "./proxy/...", "./api/..."}).
		Stdout(ctx)
}
