package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meshscan-io/meshscan/internal/mesh"
	"github.com/meshscan-io/meshscan/internal/monitoring"
)

// safeExportPath anchors a user-supplied file name under dir. Only the
// last path component is used, so a crafted name cannot traverse outside
// the export directory.
func safeExportPath(dir, fileName string) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("empty export file name")
	}
	base := filepath.Base(fileName)
	if base == "." || base == ".." || base == "" {
		return "", fmt.Errorf("invalid export file name %q", fileName)
	}

	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("cannot resolve export directory: %w", err)
	}
	dirAbs = filepath.Clean(dirAbs)

	path := filepath.Clean(filepath.Join(dirAbs, base))
	if !strings.HasPrefix(path, dirAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("export path escapes base directory")
	}
	return path, nil
}

// ExportCompositeASC writes a composite model to a CloudCompare-compatible
// .asc file under dir and returns the resolved path and point count. When
// sampler is non-nil the model is downsampled first and each line carries
// the floor/other class as an extra column.
func ExportCompositeASC(model *CompositeModel, sampler *mesh.SpatialGridSampler, dir, fileName string) (string, int, error) {
	if model == nil || len(model.Points) == 0 {
		return "", 0, fmt.Errorf("no points to export")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create export directory: %w", err)
	}
	path, err := safeExportPath(dir, fileName)
	if err != nil {
		return "", 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	var count int
	if sampler != nil {
		sampled := model.Sampled(sampler)
		fmt.Fprintf(f, "# meshscan composite export (%d fragments, sampled)\n", model.FragmentCount)
		fmt.Fprintf(f, "# Format: X Y Z Class\n")
		for _, p := range sampled {
			fmt.Fprintf(f, "%.6f %.6f %.6f %s\n", p.Position.X, p.Position.Y, p.Position.Z, p.Class)
		}
		count = len(sampled)
	} else {
		fmt.Fprintf(f, "# meshscan composite export (%d fragments)\n", model.FragmentCount)
		fmt.Fprintf(f, "# Format: X Y Z\n")
		for _, p := range model.Points {
			fmt.Fprintf(f, "%.6f %.6f %.6f\n", p.X, p.Y, p.Z)
		}
		count = len(model.Points)
	}

	monitoring.Logf("[FragmentArchive] exported %d points to %s", count, path)
	return path, count, nil
}
