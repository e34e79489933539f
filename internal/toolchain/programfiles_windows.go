//go:build windows

package toolchain

import "golang.org/x/sys/windows"

func programFilesX86() (string, error) {
	return windows.KnownFolderPath(windows.FOLDERID_ProgramFilesX86, windows.KF_FLAG_DEFAULT)
}
