// Package uploads stores the files of one import request on local disk,
// one directory per import.
package uploads

import (
	"encoding/hex"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/blake2b"
)

// BaseFileRole is the multipart field the primary dataset file arrives
// under. Every other file field is treated as a sidecar and stored next
// to it.
const BaseFileRole = "base_file"

var roleRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type Storage struct {
	root string
}

func NewStorage(root string) *Storage {
	return &Storage{root: root}
}

// Dir returns the directory a given import's files live in.
func (s *Storage) Dir(id string) string {
	return filepath.Join(s.root, id)
}

// SaveForm streams every file field of the form into the import's
// directory and returns role to stored path and role to blake2b-256
// checksum maps. A form without a base file is rejected before anything
// is written.
func (s *Storage) SaveForm(id string, form *multipart.Form) (map[string]string, map[string]string, error) {
	if form == nil || len(form.File[BaseFileRole]) == 0 {
		return nil, nil, errors.New("missing base_file")
	}
	for role := range form.File {
		if !roleRe.MatchString(role) {
			return nil, nil, errors.Errorf("invalid file role %q", role)
		}
	}

	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "failed to create upload directory")
	}

	files := make(map[string]string, len(form.File))
	checksums := make(map[string]string, len(form.File))
	for role, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		path, sum, err := saveOne(dir, headers[0])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to store %s", role)
		}
		files[role] = path
		checksums[role] = sum
	}
	return files, checksums, nil
}

// Remove deletes the import's directory with everything in it.
func (s *Storage) Remove(id string) error {
	return os.RemoveAll(s.Dir(id))
}

// ChecksumFile returns the blake2b-256 checksum of a file already on disk,
// in the same form SaveForm records for uploaded parts.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// saveOne writes a single part under its client-supplied file name. The
// name is flattened to its base so a crafted filename cannot escape the
// import directory.
func saveOne(dir string, header *multipart.FileHeader) (string, string, error) {
	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", "", errors.Errorf("invalid file name %q", header.Filename)
	}

	src, err := header.Open()
	if err != nil {
		return "", "", err
	}
	defer func() {
		_ = src.Close()
	}()

	path := filepath.Join(dir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", "", err
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		_ = dst.Close()
		return "", "", err
	}
	if _, err := io.Copy(io.MultiWriter(dst, hasher), src); err != nil {
		_ = dst.Close()
		return "", "", err
	}
	if err := dst.Close(); err != nil {
		return "", "", err
	}
	return path, hex.EncodeToString(hasher.Sum(nil)), nil
}
