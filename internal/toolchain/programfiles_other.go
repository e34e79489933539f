//go:build !windows

package toolchain

import (
	"fmt"
	"os"
)

// programFilesX86 reads the variable Windows sets for the folder.
func programFilesX86() (string, error) {
	if dir := os.Getenv("ProgramFiles(x86)"); dir != "" {
		return dir, nil
	}
	return "", fmt.Errorf("ProgramFiles(x86) is not set")
}
