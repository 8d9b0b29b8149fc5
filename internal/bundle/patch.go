package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/randalmurphal/ssdeploy/internal/util"
)

// PatchMember replaces or inserts exactly one member of the archive at path.
// Every other member is copied verbatim (no recompression) and the archive
// comment is preserved. The new archive is written next to the original and
// renamed over it only once complete, so the original is never lost.
func PatchMember(path, member string, data []byte) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}
	closed := false
	closeReader := func() {
		if !closed {
			_ = zr.Close()
			closed = true
		}
	}
	defer closeReader()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat archive %s: %w", path, err)
	}

	return util.AtomicWrite(path, info.Mode().Perm(), func(w io.Writer) error {
		zw := zip.NewWriter(w)
		if err := zw.SetComment(zr.Comment); err != nil {
			return fmt.Errorf("set archive comment: %w", err)
		}

		for _, f := range zr.File {
			if f.Name == member {
				continue
			}
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copy member %s: %w", f.Name, err)
			}
		}

		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     member,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return fmt.Errorf("create member %s: %w", member, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write member %s: %w", member, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("finish archive: %w", err)
		}

		// Release the original before it is renamed over.
		closeReader()
		return nil
	})
}
