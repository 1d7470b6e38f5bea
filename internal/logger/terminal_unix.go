//go:build linux || darwin

package logger

import (
	"os"
)

// isTerminal checks if the file descriptor belongs to a character device
func isTerminal(fd uintptr) bool {
	var f *os.File
	switch fd {
	case os.Stdout.Fd():
		f = os.Stdout
	case os.Stderr.Fd():
		f = os.Stderr
	default:
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
