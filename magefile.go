//go:build mage

package main

import (
	"os"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default runs the unit tests.
var Default = Test

// Test vets and runs the unit tests of every package.
func Test() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "test", "./...")
}

// Vet runs go vet for the host and for both Windows architectures.
func Vet() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	for _, goarch := range []string{"amd64", "386"} {
		env := map[string]string{"GOOS": "windows", "GOARCH": goarch}
		if err := sh.RunWithV(env, "go", "vet", "./internal/...", "./pkgs/...", "./cmd/..."); err != nil {
			return err
		}
	}
	return nil
}

// Generate builds the native project and regenerates the winsockraw
// bindings. It needs Windows with Visual Studio installed.
func Generate() error {
	if runtime.GOOS != "windows" {
		return mg.Fatal(1, "generate needs Windows and MSBuild")
	}
	return sh.RunV("go", "generate", "./winsockraw")
}

// Smoke builds and generates, then runs the winsockraw smoke test
// against the freshly built library.
func Smoke() error {
	mg.SerialDeps(Generate)
	env := map[string]string{"PATH": os.Getenv("WSR_LIBRARY_DIR") + string(os.PathListSeparator) + os.Getenv("PATH")}
	return sh.RunWithV(env, "go", "test", "-tags", "winsockraw_generated", "./winsockraw")
}
