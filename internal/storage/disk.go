package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Usage is the on-disk footprint of each named storage component.
type Usage struct {
	Components map[string]int64 `json:"components"`
	TotalBytes int64            `json:"total_bytes"`
}

// DiskUsage sums the size of each named path (file or directory, recursively).
// Missing and empty paths count as zero.
func DiskUsage(paths map[string]string) (Usage, error) {
	u := Usage{Components: make(map[string]int64, len(paths))}
	for name, p := range paths {
		n, err := pathSize(p)
		if err != nil {
			return Usage{}, err
		}
		u.Components[name] = n
		u.TotalBytes += n
	}
	return u, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
