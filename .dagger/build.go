package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dagger/sseview/internal/dagger"
)

// binaries are the cli/ entrypoints shipped in every build.
var binaries = []string{"sseview", "sseviewapi", "sseviewproxy"}

// Build and return directory of go binaries
func (s *Sseview) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	gooses := []string{"linux", "darwin"}
	goarches := []string{"amd64", "arm64"}

	outputs := dag.Directory()
	golang := s.goContainer()

	for _, goos := range gooses {
		for _, goarch := range goarches {
			path := fmt.Sprintf("%s/%s/", goos, goarch)

			build := golang.
				WithEnvVariable("GOOS", goos).
				WithEnvVariable("GOARCH", goarch)
			for _, bin := range binaries {
				build = build.WithExec([]string{"go", "build", "-ldflags", ldflags, "-o", path, "./cli/" + bin})
			}

			outputs = outputs.WithDirectory(path, build.Directory(path))
		}
	}

	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (s *Sseview) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	buildtime := time.Now().UTC().Format(time.RFC3339)

	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X 'github.com/papercomputeco/sseview/pkg/utils.Version=%s'", version),
		fmt.Sprintf("-X 'github.com/papercomputeco/sseview/pkg/utils.Sha=%s'", commit),
		fmt.Sprintf("-X 'github.com/papercomputeco/sseview/pkg/utils.Buildtime=%s'", buildtime),
	}

	return s.Build(ctx, strings.Join(ldflags, " "))
}
