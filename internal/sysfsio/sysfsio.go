// Package sysfsio is the sysfs gateway: integer, float and string
// reads and writes against a single attribute path. It is the only
// package in this module that touches the kernel's sysfs tree
// directly, the way periph.io/x/host/v3/sysfs isolates its own GPIO
// attribute I/O behind a narrow surface.
package sysfsio

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Gateway is the sysfs I/O primitive the rest of the module is built
// on. Out of scope for this module per the core specification (the
// surrounding platform owns real sysfs access), but a concrete
// implementation is required to exercise and test everything above it.
type Gateway interface {
	ReadInt(path string) (int64, error)
	WriteInt(path string, v int64) error
	ReadFloat(path string) (float64, error)
	WriteFloat(path string, v float64) error
	ReadString(path string) (string, error)
	WriteString(path string, v string) error
}

// FileGateway implements Gateway against the real filesystem using raw
// open/read/write/close syscalls, one per call — sysfs attribute files
// are single-shot, not meant to be held open across operations.
type FileGateway struct{}

const maxAttrSize = 256

func (FileGateway) readRaw(path string) (string, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer unix.Close(fd)
	buf := make([]byte, maxAttrSize)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

func (FileGateway) writeRaw(path, v string) error {
	fd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	_, err = unix.Write(fd, []byte(v))
	return err
}

func (g FileGateway) ReadInt(path string) (int64, error) {
	s, err := g.readRaw(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

func (g FileGateway) WriteInt(path string, v int64) error {
	return g.writeRaw(path, strconv.FormatInt(v, 10))
}

func (g FileGateway) ReadFloat(path string) (float64, error) {
	s, err := g.readRaw(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func (g FileGateway) WriteFloat(path string, v float64) error {
	return g.writeRaw(path, strconv.FormatFloat(v, 'g', -1, 64))
}

func (g FileGateway) ReadString(path string) (string, error) {
	return g.readRaw(path)
}

func (g FileGateway) WriteString(path string, v string) error {
	return g.writeRaw(path, v)
}
