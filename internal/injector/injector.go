package injector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/hexfall/ipavault/internal/domain"
	"github.com/hexfall/ipavault/internal/infra/logger"
)

// ErrNoManifest is surfaced when the archive carries neither a signature
// manifest nor a usable info plist.
var ErrNoManifest = errors.New("Could not read manifest or info plist")

// Injector appends signature blobs and the metadata plist into a downloaded
// archive without rebuilding it. The append itself is delegated to the
// system zip binary; everything staged for it is written under a throwaway
// directory mirroring the archive layout.
type Injector struct {
	zipPath string
	log     *logger.Logger
}

func New(log *logger.Logger) (*Injector, error) {
	zipPath, err := exec.LookPath("zip")
	if err != nil {
		return nil, fmt.Errorf("zip binary not found in PATH: %w", err)
	}
	return &Injector{zipPath: zipPath, log: log}, nil
}

// entry is one file to append: an archive-relative slash path and its bytes.
type entry struct {
	relPath string
	data    []byte
}

// Inject writes the signature blobs (and, when present, the transcoded
// iTunesMetadata.plist) into archivePath.
func (inj *Injector) Inject(ctx context.Context, archivePath string, sinfs []domain.Sinf, metadataB64 string) error {
	layout, err := readLayout(ctx, archivePath)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}

	entries, err := selectTargets(layout, sinfs)
	if err != nil {
		return err
	}

	if metadataB64 != "" {
		meta, err := transcodeMetadata(metadataB64)
		if err != nil {
			return err
		}
		entries = append(entries, entry{relPath: "iTunesMetadata.plist", data: meta})
	}

	if len(entries) == 0 {
		return nil
	}
	return inj.appendEntries(ctx, archivePath, entries)
}

// selectTargets pairs each signature blob with its destination inside the
// archive. The manifest's SinfPaths drive the pairing; an info plist with a
// CFBundleExecutable is the fallback for archives without a manifest.
func selectTargets(layout *layout, sinfs []domain.Sinf) ([]entry, error) {
	appDir := path.Join("Payload", layout.bundleName+".app")

	if manifest := parseDict(layout.manifestRaw); manifest != nil {
		paths, ok := manifest["SinfPaths"].([]interface{})
		if ok {
			var entries []entry
			n := len(paths)
			if len(sinfs) < n {
				n = len(sinfs)
			}
			for i := 0; i < n; i++ {
				rel, ok := paths[i].(string)
				if !ok {
					continue
				}
				data, err := base64.StdEncoding.DecodeString(sinfs[i].Data)
				if err != nil {
					return nil, fmt.Errorf("decoding sinf %d: %w", i, err)
				}
				entries = append(entries, entry{relPath: path.Join(appDir, rel), data: data})
			}
			return entries, nil
		}
	}

	if info := parseDict(layout.infoRaw); info != nil {
		executable, _ := info["CFBundleExecutable"].(string)
		if executable != "" && len(sinfs) > 0 {
			data, err := base64.StdEncoding.DecodeString(sinfs[0].Data)
			if err != nil {
				return nil, fmt.Errorf("decoding sinf: %w", err)
			}
			rel := path.Join(appDir, "SC_Info", executable+".sinf")
			return []entry{{relPath: rel, data: data}}, nil
		}
	}

	return nil, ErrNoManifest
}

// appendEntries stages the files under a temp directory and shells out to
// zip to add them with no compression. The "--" sentinel keeps a hostile
// path from being read as a flag.
func (inj *Injector) appendEntries(ctx context.Context, archivePath string, entries []entry) error {
	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		return err
	}

	stage, err := os.MkdirTemp("", "ipavault-inject-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(stage)

	stageRoot := stage + string(os.PathSeparator)
	args := []string{"-0", absArchive, "--"}

	for _, e := range entries {
		full := filepath.Join(stage, filepath.FromSlash(e.relPath))
		// A manifest is attacker-influenced input; nothing it names may
		// resolve outside the staging root.
		if !strings.HasPrefix(full, stageRoot) {
			return fmt.Errorf("entry path escapes staging directory: %s", e.relPath)
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(full, e.data, 0644); err != nil {
			return err
		}
		args = append(args, e.relPath)
	}

	cmd := exec.CommandContext(ctx, inj.zipPath, args...)
	cmd.Dir = stage

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("zip append failed: %w\nOutput: %s", err, truncate(output, 1<<20))
	}

	inj.log.Debug("appended %d entries into %s", len(entries), filepath.Base(archivePath))
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
