package uploads

import (
	"bytes"
	"encoding/hex"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/blake2b"
)

func buildForm(t *testing.T, parts map[string][2]string) *multipart.Form {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for role, part := range parts {
		fw, err := w.CreateFormFile(role, part[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(part[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	reader := multipart.NewReader(&buf, w.Boundary())
	form, err := reader.ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = form.RemoveAll()
	})
	return form
}

func TestStorage_SaveForm(t *testing.T) {
	root := t.TempDir()
	s := NewStorage(root)
	form := buildForm(t, map[string][2]string{
		"base_file": {"rivers.gpkg", "GPKG-BYTES"},
		"xml_file":  {"rivers.xml", "<metadata/>"},
	})

	files, checksums, err := s.SaveForm("exec-1", form)
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(root, "exec-1", "rivers.gpkg"), files["base_file"])
	assert.Equal(t, filepath.Join(root, "exec-1", "rivers.xml"), files["xml_file"])

	content, err := os.ReadFile(files["base_file"])
	require.NoError(t, err)
	assert.Equal(t, "GPKG-BYTES", string(content))

	want := blake2b.Sum256([]byte("GPKG-BYTES"))
	assert.Equal(t, hex.EncodeToString(want[:]), checksums["base_file"])
}

func TestStorage_SaveForm_MissingBaseFile(t *testing.T) {
	s := NewStorage(t.TempDir())
	form := buildForm(t, map[string][2]string{
		"xml_file": {"rivers.xml", "<metadata/>"},
	})

	_, _, err := s.SaveForm("exec-1", form)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_file")
}

func TestStorage_SaveForm_RejectsBadRole(t *testing.T) {
	s := NewStorage(t.TempDir())
	form := buildForm(t, map[string][2]string{
		"base_file":  {"rivers.gpkg", "x"},
		"Bad-Role!!": {"rivers.xml", "y"},
	})

	_, _, err := s.SaveForm("exec-1", form)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid file role")
}

func TestStorage_SaveForm_FlattensTraversalNames(t *testing.T) {
	root := t.TempDir()
	s := NewStorage(root)
	form := buildForm(t, map[string][2]string{
		"base_file": {"../../evil.gpkg", "x"},
	})

	files, _, err := s.SaveForm("exec-1", form)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "exec-1", "evil.gpkg"), files["base_file"])
	_, statErr := os.Stat(filepath.Join(root, "evil.gpkg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStorage_Remove(t *testing.T) {
	root := t.TempDir()
	s := NewStorage(root)
	form := buildForm(t, map[string][2]string{
		"base_file": {"rivers.gpkg", "x"},
	})
	_, _, err := s.SaveForm("exec-1", form)
	require.NoError(t, err)

	require.NoError(t, s.Remove("exec-1"))

	_, statErr := os.Stat(s.Dir("exec-1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestChecksumFile_MatchesSaveForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rivers.gpkg")
	require.NoError(t, os.WriteFile(path, []byte("GPKG-BYTES"), 0o644))

	sum, err := ChecksumFile(path)
	require.NoError(t, err)

	want := blake2b.Sum256([]byte("GPKG-BYTES"))
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
}

func TestChecksumFile_MissingFile(t *testing.T) {
	_, err := ChecksumFile(filepath.Join(t.TempDir(), "nope.gpkg"))
	require.Error(t, err)
}
