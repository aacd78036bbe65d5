package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"studyroom/internal/chat"
)

// FileItem is one row of the file browser.
type FileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// browseDirectory reads directory contents for the file browser
func browseDirectory(path string) ([]FileItem, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	items := make([]FileItem, 0, len(entries)+1)

	if parent := filepath.Dir(path); parent != path {
		items = append(items, FileItem{
			Name:  "..",
			Path:  parent,
			IsDir: true,
		})
	}

	for _, entry := range entries {
		// Skip hidden files
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		item := FileItem{
			Name:  entry.Name(),
			Path:  filepath.Join(path, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}
		items = append(items, item)
	}

	// directories first, then files, both alphabetically
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Name == ".." || items[j].Name == ".." {
			return items[i].Name == ".."
		}
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})

	return items, nil
}

// getDefaultBrowsePath returns a sensible starting directory for file browser
func getDefaultBrowsePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		for _, dir := range []string{"Documents", "Downloads"} {
			candidate := filepath.Join(home, dir)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// fileInfoFor describes a local file for upload. The MIME type is sniffed
// from the content, so a renamed file is still labelled by what it is.
func fileInfoFor(path string) (chat.FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return chat.FileInfo{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if stat.IsDir() {
		return chat.FileInfo{}, fmt.Errorf("%s is a folder", filepath.Base(path))
	}
	info := chat.FileInfo{Name: filepath.Base(path), Size: stat.Size()}
	if detected, err := mimetype.DetectFile(path); err == nil {
		info.MIMEType = detected.String()
	}
	return info, nil
}

// fileIcon picks a glyph for a MIME type.
func fileIcon(fileType string) string {
	switch {
	case strings.HasPrefix(fileType, "image/"):
		return "🖼️"
	case strings.HasPrefix(fileType, "video/"):
		return "🎥"
	case strings.HasPrefix(fileType, "audio/"):
		return "🎵"
	case strings.Contains(fileType, "pdf"):
		return "📄"
	case strings.Contains(fileType, "word"), strings.Contains(fileType, "document"):
		return "📝"
	case strings.Contains(fileType, "sheet"), strings.Contains(fileType, "excel"):
		return "📊"
	case strings.Contains(fileType, "zip"), strings.Contains(fileType, "archive"):
		return "📦"
	}
	return "📎"
}
