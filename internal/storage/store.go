// Package storage keeps uploaded images in a flat directory.
package storage

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

// StagedPrefix marks files written by Stage. Saved uploads always start
// with a timestamp, so the two never collide.
const StagedPrefix = "staged-"

var stagedExt = regexp.MustCompile(`^\.[a-z0-9]+$`)

// Stored describes a file written by the store.
type Stored struct {
	Filename string
	Path     string
	Size     int64
	SHA256   string
}

// Store writes, serves and removes files in a single directory.
// Concurrent writers never share a name: names carry a millisecond
// timestamp and files are opened with O_EXCL.
type Store struct {
	fs     billy.Filesystem
	now    func() time.Time
	random func() string
}

func New(fs billy.Filesystem) *Store {
	return &Store{
		fs:     fs,
		now:    time.Now,
		random: randomSuffix,
	}
}

// NewOS creates dir if needed and returns a store rooted at it.
func NewOS(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("while creating upload directory '%s': %w", dir, err)
	}
	return New(osfs.New(dir)), nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Save stores r as "{timestamp}-{original}". If that name is taken it
// falls back to "{timestamp}-{random}{ext}".
func (s *Store) Save(original string, r io.Reader) (Stored, error) {
	ts := s.now().UnixMilli()
	clean := SanitizeFilename(original)
	f, name, err := s.create(fmt.Sprintf("%d-%s", ts, clean))
	if errors.Is(err, os.ErrExist) {
		f, name, err = s.create(fmt.Sprintf("%d-%s%s", ts, s.random(), Ext(clean)))
	}
	if err != nil {
		return Stored{}, err
	}
	return s.write(f, name, r)
}

// Stage stores r under "staged-{timestamp}-{random}{ext}" and hands back
// a handle whose Release removes it again. An ext that is not a plain
// lowercase extension is dropped.
func (s *Store) Stage(ext string, r io.Reader) (*Staged, error) {
	if !stagedExt.MatchString(ext) {
		ext = ""
	}
	f, name, err := s.create(fmt.Sprintf("%s%d-%s%s", StagedPrefix, s.now().UnixMilli(), s.random(), ext))
	if err != nil {
		return nil, err
	}
	stored, err := s.write(f, name, r)
	if err != nil {
		return nil, err
	}
	return &Staged{Stored: stored, store: s}, nil
}

func (s *Store) create(name string) (billy.File, string, error) {
	f, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, name, nil
}

func (s *Store) write(f billy.File, name string, r io.Reader) (Stored, error) {
	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err == nil {
		err = f.Close()
	} else {
		f.Close()
	}
	if err != nil {
		s.fs.Remove(name)
		return Stored{}, fmt.Errorf("while writing '%s': %w", name, err)
	}
	return Stored{
		Filename: name,
		Path:     s.Path(name),
		Size:     n,
		SHA256:   fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

// Path returns where name lives on the underlying filesystem.
func (s *Store) Path(name string) string {
	return filepath.Join(s.fs.Root(), name)
}

// Open opens a stored file for reading.
func (s *Store) Open(name string) (billy.File, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	f, err := s.fs.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *Store) Stat(name string) (os.FileInfo, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	info, err := s.fs.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return info, err
}

// Remove deletes a stored file.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	if _, err := s.fs.Stat(name); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return s.fs.Remove(name)
}

// Staged is a temporary file owned by a single relay.
type Staged struct {
	Stored
	store    *Store
	released bool
}

func (st *Staged) Open() (billy.File, error) {
	return st.store.Open(st.Filename)
}

// Release removes the file. Calling it again is a no-op.
func (st *Staged) Release() error {
	if st.released {
		return nil
	}
	st.released = true
	err := st.store.fs.Remove(st.Filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// IsStaged reports whether name belongs to a file written by Stage.
func IsStaged(name string) bool {
	return strings.HasPrefix(name, StagedPrefix)
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with an underscore.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	clean := strings.TrimLeft(b.String(), ".")
	if clean == "" {
		return "upload"
	}
	return clean
}

// Ext returns the lowercased extension of name, including the dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(name))
}
