package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

// installDir is where installed packages land on the only supported
// platform.
const installDir = "/usr/include/c++/9"

// installTarget resolves the local installation directory, checking
// platform support and privileges.
func installTarget() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if os.Geteuid() != 0 {
			return "", errors.New("you need to be root to install packages")
		}
		return installDir, nil
	case "darwin":
		return "", errors.New("currently macos is not supported for installation")
	case "windows":
		return "", errors.New("currently windows is not supported for installation")
	default:
		return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
