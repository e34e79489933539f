package internal

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// outputResult writes the build output to dest.
// A ".zip" or ".tar.xz" dest creates an archive; otherwise the directory
// is copied.
func outputResult(srcDir, dest string) error {
	switch {
	case strings.HasSuffix(dest, ".zip"):
		return zipDir(srcDir, dest)
	case strings.HasSuffix(dest, ".tar.xz"):
		return tarXZDir(srcDir, dest)
	}
	return os.CopyFS(dest, os.DirFS(srcDir))
}

// walkFiles calls fn for every regular file under srcDir with its
// slash-separated relative name.
func walkFiles(srcDir string, fn func(path, name string, info os.FileInfo) error) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		return fn(path, filepath.ToSlash(rel), info)
	})
}

func copyFileTo(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

// zipDir creates a zip archive at dest from the contents of srcDir.
func zipDir(srcDir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	err = walkFiles(srcDir, func(path, name string, info os.FileInfo) error {
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return err
		}
		return copyFileTo(writer, path)
	})
	if err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// tarXZDir creates an xz-compressed tarball at dest from the contents of
// srcDir.
func tarXZDir(srcDir, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(xw)
	err = walkFiles(srcDir, func(path, name string, info os.FileInfo) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		return copyFileTo(tw, path)
	})
	if err != nil {
		tw.Close()
		xw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return xw.Close()
}
