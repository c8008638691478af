package script

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/opencontainers/go-digest"
	"github.com/ulikunitz/xz"
)

// Compression selects the encoding of the archive stream.
type Compression string

const (
	Uncompressed  Compression = "none"
	CompressionXZ Compression = "xz"
)

// ParseCompression maps a setting value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none", "tar":
		return Uncompressed, nil
	case "xz":
		return CompressionXZ, nil
	}
	return "", fmt.Errorf("script: unknown archive compression %q (supported: none, xz)", s)
}

// Archive is a tar stream backed by a temporary file. Entries are added
// until the archive is sealed by Close or File; adding afterwards panics.
type Archive struct {
	workspace   string
	ignoreFile  string
	compression Compression
	logger      *log.Logger

	file   *os.File
	zw     io.WriteCloser
	tw     *tar.Writer
	rules  *ignoreRules
	closed bool

	entries []string
	files   []string
	size    int64
	digest  digest.Digest
}

// ArchiveOption configures an Archive.
type ArchiveOption func(*Archive)

// WithLogger sets the logger used for exclusion and size messages.
func WithLogger(l *log.Logger) ArchiveOption {
	return func(a *Archive) { a.logger = l }
}

// WithCompression compresses the stream.
func WithCompression(c Compression) ArchiveOption {
	return func(a *Archive) { a.compression = c }
}

// WithIgnoreFile overrides the workspace-relative exclusion file name.
func WithIgnoreFile(name string) ArchiveOption {
	return func(a *Archive) { a.ignoreFile = name }
}

// NewArchive creates an empty archive for project files of workspace.
// Exclusion patterns are read once, here.
func NewArchive(workspace string, opts ...ArchiveOption) (*Archive, error) {
	a := &Archive{
		workspace:   workspace,
		ignoreFile:  IgnoreFile,
		compression: Uncompressed,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	rules, err := loadIgnoreRules(filepath.Join(workspace, a.ignoreFile))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", a.ignoreFile, err)
	}
	a.rules = rules

	f, err := os.CreateTemp("", "shipmaster-*.tar")
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	a.file = f

	var w io.Writer = f
	if a.compression == CompressionXZ {
		zw, err := xz.NewWriter(f)
		if err != nil {
			a.Remove()
			return nil, fmt.Errorf("creating xz stream: %w", err)
		}
		a.zw = zw
		w = zw
	}
	a.tw = tar.NewWriter(w)
	return a, nil
}

// AddScript seals the script if needed and stores it under ScriptsRoot.
func (a *Archive) AddScript(s *Script) error {
	a.mustOpen()
	hdr := s.Header()
	if err := a.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archiving %s: %w", s.Path(), err)
	}
	if _, err := a.tw.Write(s.Bytes()); err != nil {
		return fmt.Errorf("archiving %s: %w", s.Path(), err)
	}
	a.entries = append(a.entries, hdr.Name)
	return nil
}

// AddBundledFile stores a helper file shipped with shipmaster itself at
// ScriptsRoot/rel. Bundled files are always executable.
func (a *Archive) AddBundledFile(fsys fs.FS, rel string) error {
	a.mustOpen()
	data, err := fs.ReadFile(fsys, rel)
	if err != nil {
		return fmt.Errorf("reading bundled file %s: %w", rel, err)
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     strings.TrimPrefix(path.Join(ScriptsRoot, rel), "/"),
		Mode:     0o755,
		Size:     int64(len(data)),
	}
	if err := a.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	if _, err := a.tw.Write(data); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	a.entries = append(a.entries, hdr.Name)
	return nil
}

// AddProjectFile stores a workspace file, or a directory tree, under AppRoot.
// Paths matching the ignore rules are skipped; an excluded directory is
// skipped with everything below it.
func (a *Archive) AddProjectFile(rel string) error {
	a.mustOpen()
	root, err := securejoin.SecureJoin(a.workspace, rel)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", rel, err)
	}
	base := path.Clean(filepath.ToSlash(rel))

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		sub, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := path.Join(base, filepath.ToSlash(sub))

		if a.rules.Excluded(name) {
			a.logger.Debug("excluding", "path", name)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return a.addProjectEntry(p, name, info)
	})
}

func (a *Archive) addProjectEntry(hostPath, rel string, info fs.FileInfo) error {
	var link string
	switch mode := info.Mode(); {
	case mode.IsRegular(), mode.IsDir():
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		link = target
	default:
		a.logger.Debug("skipping special file", "path", rel)
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	hdr.Name = path.Join(strings.TrimPrefix(AppRoot, "/"), rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uname, hdr.Gname = "", ""

	if err := a.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	a.entries = append(a.entries, hdr.Name)

	if !info.Mode().IsRegular() {
		return nil
	}
	f, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(a.tw, f); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	a.files = append(a.files, hostPath)
	return nil
}

// Close seals the archive. It is safe to call more than once.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	if err := a.tw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}
	if a.zw != nil {
		if err := a.zw.Close(); err != nil {
			return fmt.Errorf("finishing xz stream: %w", err)
		}
	}

	info, err := a.file.Stat()
	if err != nil {
		return err
	}
	a.size = info.Size()

	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dgst, err := digest.Canonical.FromReader(a.file)
	if err != nil {
		return fmt.Errorf("hashing archive: %w", err)
	}
	a.digest = dgst

	a.logger.Info("archive", "size", humanSize(a.size), "entries", len(a.entries), "digest", dgst.Encoded()[:12])
	return nil
}

// File seals the archive if needed and returns its bytes from the start.
func (a *Archive) File() (io.Reader, error) {
	if err := a.Close(); err != nil {
		return nil, err
	}
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return a.file, nil
}

// Remove deletes the backing file.
func (a *Archive) Remove() error {
	if a.file == nil {
		return nil
	}
	a.file.Close()
	err := os.Remove(a.file.Name())
	a.file = nil
	return err
}

// Entries returns the archived names, in the order they were added.
func (a *Archive) Entries() []string { return a.entries }

// ProjectFiles returns the host paths of archived regular project files.
func (a *Archive) ProjectFiles() []string { return a.files }

// Workspace returns the directory project files are read from.
func (a *Archive) Workspace() string { return a.workspace }

// Compression returns the stream encoding.
func (a *Archive) Compression() Compression { return a.compression }

// Closed reports whether the archive is sealed.
func (a *Archive) Closed() bool { return a.closed }

// Size returns the sealed size in bytes.
func (a *Archive) Size() int64 { return a.size }

// Digest returns the content digest of the sealed stream.
func (a *Archive) Digest() digest.Digest { return a.digest }

func (a *Archive) mustOpen() {
	if a.closed {
		panic("script: add to closed archive")
	}
}

func humanSize(b int64) string {
	switch {
	case b >= 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(b)/(1024*1024))
	case b >= 1024:
		return fmt.Sprintf("%.1f KB", float64(b)/1024)
	default:
		return fmt.Sprintf("%d B", b)
	}
}
