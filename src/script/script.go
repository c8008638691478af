// Package script assembles the shell scripts and tar archives that are
// uploaded into build containers.
//
// Everything lands in one of two fixed in-container locations: scripts
// under ScriptsRoot, project files under AppRoot.
package script

import (
	"archive/tar"
	"bytes"
	"path"
	"strings"
)

const (
	// ScriptsRoot holds uploaded scripts and bundled helper files.
	ScriptsRoot = "/shipmaster/scripts"
	// AppRoot holds the project files and is every script's working directory.
	AppRoot = "/app"
)

// Script is an append-only shell script. It is open until Close seals it;
// writing to a sealed script panics.
type Script struct {
	name   string
	buf    bytes.Buffer
	closed bool
	size   int64
}

// New starts a script stored at ScriptsRoot/name. With trace set the script
// echoes each command (set -x). Every script then changes into AppRoot.
func New(name string, trace bool) *Script {
	s := &Script{name: name}
	if trace {
		s.Write("set -x")
		s.Write("")
	}
	s.Write("cd " + AppRoot)
	return s
}

// Name returns the file name of the script.
func (s *Script) Name() string { return s.name }

// Path returns the absolute in-container path of the script.
func (s *Script) Path() string { return path.Join(ScriptsRoot, s.name) }

// Write appends a line.
func (s *Script) Write(line string) {
	s.WriteRaw(line)
	s.buf.WriteByte('\n')
}

// WriteRaw appends text without a trailing newline.
func (s *Script) WriteRaw(text string) {
	if s.closed {
		panic("script: write to closed script " + s.name)
	}
	s.buf.WriteString(text)
}

// WriteAll appends each command as its own line.
func (s *Script) WriteAll(commands []string) {
	for _, c := range commands {
		s.Write(c)
	}
}

// Close seals the script and records its size. Closing twice panics.
func (s *Script) Close() {
	if s.closed {
		panic("script: close of closed script " + s.name)
	}
	s.size = int64(s.buf.Len())
	s.closed = true
}

// Reopen unseals a closed script so more lines can be appended.
func (s *Script) Reopen() {
	if !s.closed {
		panic("script: reopen of open script " + s.name)
	}
	s.size = 0
	s.closed = false
}

// Closed reports whether the script is sealed.
func (s *Script) Closed() bool { return s.closed }

// Size returns the sealed size in bytes, or 0 while the script is open.
func (s *Script) Size() int64 { return s.size }

// Bytes seals the script if needed and returns its content.
func (s *Script) Bytes() []byte {
	s.seal()
	return s.buf.Bytes()
}

// Source seals the script if needed and returns it as text.
func (s *Script) Source() string {
	return string(s.Bytes())
}

// Header seals the script if needed and returns its tar header.
func (s *Script) Header() *tar.Header {
	s.seal()
	return &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     strings.TrimPrefix(s.Path(), "/"),
		Mode:     0o755,
		Size:     s.size,
	}
}

func (s *Script) seal() {
	if !s.closed {
		s.Close()
	}
}
