package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/sidkik/packsync/pkg/errors"
	"github.com/sidkik/packsync/pkg/manifest"
)

// errUnsafePath is returned for archive members that would be written
// outside of the extraction directory.
type errUnsafePath struct {
	name string
}

func (err errUnsafePath) Error() string {
	return fmt.Sprintf("archive member %q escapes the extraction directory", err.name)
}

// openArchive opens the zip archive at `archivePath`. The caller must close
// the returned file once it's done with the reader.
func openArchive(fs afero.Fs, archivePath string) (*zip.Reader, afero.File, error) {
	f, err := fs.Open(archivePath)
	if err != nil {
		return nil, nil, errors.WithContext(err, "open")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.WithContext(err, "stat")
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, errors.WithContext(err, "read zip")
	}
	return zr, f, nil
}

// extract unpacks the zip archive at `archivePath` into `dir`.
func extract(fs afero.Fs, archivePath, dir string) error {
	zr, f, err := openArchive(fs, archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, member := range zr.File {
		dest, err := memberPath(dir, member.Name)
		if err != nil {
			return err
		}

		if member.FileInfo().IsDir() {
			if err := fs.MkdirAll(dest, 0755); err != nil {
				return errors.WithContext(err, "mkdir")
			}
			continue
		}

		if err := extractMember(fs, member, dest); err != nil {
			return errors.WithContext(err, fmt.Sprintf("extract %s", member.Name))
		}
	}
	return nil
}

func extractMember(fs afero.Fs, member *zip.File, dest string) error {
	if err := fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	src, err := member.Open()
	if err != nil {
		return errors.WithContext(err, "open member")
	}
	defer src.Close()

	out, err := fs.OpenFile(dest, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

// memberPath returns where an archive member should be extracted to, or an
// error if the member would land outside of `dir`.
func memberPath(dir, name string) (string, error) {
	normalized := strings.ReplaceAll(name, "\\", "/")
	if err := manifest.ValidatePath(normalized); err != nil {
		return "", errUnsafePath{name}
	}
	return filepath.Join(dir, filepath.FromSlash(path.Clean(normalized))), nil
}

// Inspect reads the index of the archive at `archivePath` without extracting
// it. It also counts the files in each override tree.
func Inspect(fs afero.Fs, archivePath string) (Index, map[string]int, error) {
	zr, f, err := openArchive(fs, archivePath)
	if err != nil {
		return Index{}, nil, err
	}
	defer f.Close()

	var index *Index
	overrides := map[string]int{}
	for _, member := range zr.File {
		name := strings.ReplaceAll(member.Name, "\\", "/")
		if name == IndexFileName {
			parsed, err := readMemberIndex(member)
			if err != nil {
				return Index{}, nil, err
			}
			index = &parsed
			continue
		}

		tree := strings.SplitN(name, "/", 2)[0]
		if strings.HasSuffix(tree, OverridesDir) && !member.FileInfo().IsDir() {
			overrides[tree]++
		}
	}

	if index == nil {
		return Index{}, nil, errors.BundleIndexMissing{Ref: archivePath}
	}
	return *index, overrides, nil
}

func readMemberIndex(member *zip.File) (Index, error) {
	src, err := member.Open()
	if err != nil {
		return Index{}, errors.WithContext(err, "open index")
	}
	defer src.Close()

	data, err := ioutil.ReadAll(src)
	if err != nil {
		return Index{}, errors.WithContext(err, "read index")
	}
	return ParseIndex(data)
}
