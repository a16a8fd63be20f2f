package injector

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/mholt/archives"
	"howett.net/plist"
)

// layout is what the read-only pass over the archive yields: the primary
// bundle name plus the raw bytes of its manifest and info plists, when
// present.
type layout struct {
	bundleName  string
	manifestRaw []byte
	infoRaw     []byte
}

// readLayout walks the archive for the first .app/Info.plist outside a
// /Watch/ subtree (companion watch bundles carry their own Info.plist) and
// caches the two plists the target selection needs.
func readLayout(ctx context.Context, archivePath string) (*layout, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, err
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}

	var infoPath string
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.Contains(p, ".app/Info.plist") && !strings.Contains(p, "/Watch/") {
			infoPath = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &layout{}
	if infoPath == "" {
		return out, nil
	}

	appDir := bundleDir(infoPath)
	out.bundleName = strings.TrimSuffix(path.Base(appDir), ".app")

	// Both reads are best-effort; a missing plist just narrows the target
	// selection.
	out.manifestRaw, _ = fs.ReadFile(fsys, path.Join(appDir, "SC_Info", "Manifest.plist"))
	out.infoRaw, _ = fs.ReadFile(fsys, infoPath)

	return out, nil
}

// bundleDir returns the archive path up to and including the ".app"
// component of p.
func bundleDir(p string) string {
	idx := strings.Index(p, ".app/")
	if idx == -1 {
		return path.Dir(p)
	}
	return p[:idx+len(".app")]
}

// parseDict decodes a property-list dictionary. Binary form is recognized
// first; XML parsing is attempted only when the bytes look like XML. Returns
// nil when the blob is absent or unreadable.
func parseDict(data []byte) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}

	var v map[string]interface{}
	if bytes.HasPrefix(data, []byte("bplist")) {
		if _, err := plist.Unmarshal(data, &v); err == nil {
			return v
		}
		return nil
	}
	if bytes.Contains(data, []byte("<?xml")) || bytes.Contains(data, []byte("<plist")) {
		if _, err := plist.Unmarshal(data, &v); err == nil {
			return v
		}
	}
	return nil
}
