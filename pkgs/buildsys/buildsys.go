package buildsys

// BuildSystem captures shared capabilities of native build helpers.
// It keeps the common source/env setup; implementations add their own extras.
type BuildSystem interface {
	// Source sets the project or solution descriptor to build.
	Source(path string)

	// Environment helper.
	Env(key, val string)

	// Build runs the build tool and waits for it to exit.
	Build(args ...string) error

	// Where artifacts land.
	OutputDir() string
}
