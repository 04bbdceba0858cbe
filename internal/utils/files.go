// File utilities with cross-platform safety and edge case handling
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	dangerousChars = regexp.MustCompile(`[<>:"|?*\\/]`)
	multiSpace     = regexp.MustCompile(`\s+`)
)

// maxFilenameLen keeps names under common filesystem limits.
const maxFilenameLen = 255

// SanitizeFilename creates a safe filename for all platforms.
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}

	safe := dangerousChars.ReplaceAllString(filename, "_")

	// Control characters
	safe = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return '_'
		}
		return r
	}, safe)

	safe = multiSpace.ReplaceAllString(safe, " ")
	safe = strings.Trim(safe, " .")
	if safe == "" {
		return "unnamed"
	}

	if len(safe) > maxFilenameLen {
		ext := filepath.Ext(safe)
		if len(ext) >= maxFilenameLen {
			ext = ""
		}
		safe = safe[:maxFilenameLen-len(ext)] + ext
	}

	return safe
}

// FileType returns the lowercase extension without the dot, or "unknown".
func FileType(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "unknown"
	}
	return ext
}

// EnsureDirectory creates the directory path with proper permissions.
func EnsureDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	return os.MkdirAll(absPath, 0o755)
}

// FormatFileSize returns a human-readable size with appropriate units.
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(bytes)
	i := 0

	for size >= unit && i < len(units)-1 {
		size /= unit
		i++
	}

	if size >= 100 {
		return fmt.Sprintf("%.0f %s", size, units[i])
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
