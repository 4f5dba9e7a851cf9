package browser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// TransientDirs are profile subdirectories that hold only caches. Removing
// them never logs the session out.
var TransientDirs = []string{
	"Cache",
	"Code Cache",
	"GPUCache",
	"Service Worker",
	"Session Storage",
	"ServiceWorkerCache",
	"Application Cache",
}

// markerFiles indicate a profile that holds real Chrome data.
var markerFiles = []string{"Cookies", "History", "Local State", "Preferences", "Login Data"}

// chromeEntries are top-level names Chrome writes into a profile before any
// marker file exists.
var chromeEntries = []string{
	"Default", "Crashpad", "SingletonLock", "SingletonCookie", "SingletonSocket",
	"First Run", "Last Version", "Last Browser", "Variations", "DevToolsActivePort",
	"ShaderCache", "GrShaderCache", "GraphiteDawnCache", "BrowserMetrics",
	"Safe Browsing", "component_crx_cache", "segmentation_platform",
}

// ErrForeignProfile means the profile path holds files Chrome did not
// write. Such a directory is never wiped.
var ErrForeignProfile = errors.New("profile path is not a chrome profile")

func profileRoots(profileDir string) []string {
	return []string{profileDir, filepath.Join(profileDir, "Default")}
}

// CleanTempFiles removes the transient cache directories from the profile
// and returns how many were deleted.
func CleanTempFiles(profileDir string) (int, error) {
	removed := 0
	var errs []error
	for _, root := range profileRoots(profileDir) {
		for _, name := range TransientDirs {
			p := filepath.Join(root, name)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := os.RemoveAll(p); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// ProfileExists reports whether the profile directory exists.
func ProfileExists(profileDir string) bool {
	info, err := os.Stat(profileDir)
	return err == nil && info.IsDir()
}

// ProfileHasData reports whether the profile holds Chrome session data.
func ProfileHasData(profileDir string) bool {
	for _, root := range profileRoots(profileDir) {
		for _, name := range markerFiles {
			if _, err := os.Stat(filepath.Join(root, name)); err == nil {
				return true
			}
		}
	}
	return false
}

// PrepareProfile keeps an existing profile with session data (cleaning only
// its caches) and recreates anything else. It reports whether the profile
// was kept.
func PrepareProfile(profileDir string) (bool, error) {
	if ProfileExists(profileDir) && ProfileHasData(profileDir) {
		_, err := CleanTempFiles(profileDir)
		return true, err
	}
	return false, ClearProfile(profileDir)
}

// ClearProfile deletes the whole profile and recreates it empty. It refuses
// with ErrForeignProfile when the directory holds anything but Chrome data.
func ClearProfile(profileDir string) error {
	ok, err := isChromeDir(profileDir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrForeignProfile, profileDir)
	}
	if err := os.RemoveAll(profileDir); err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	return nil
}

// isChromeDir reports whether profileDir is missing, empty, or holds only
// entries Chrome creates.
func isChromeDir(profileDir string) (bool, error) {
	entries, err := os.ReadDir(profileDir)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read profile: %w", err)
	}
	if ProfileHasData(profileDir) {
		return true, nil
	}
	for _, e := range entries {
		if !slices.Contains(chromeEntries, e.Name()) && !slices.Contains(TransientDirs, e.Name()) {
			return false, nil
		}
	}
	return true, nil
}

// ProfileSize returns the total size of all files in the profile.
func ProfileSize(profileDir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(profileDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Chrome deletes files while running.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}
