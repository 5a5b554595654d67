// Package validate certifies that a local content tree is ready for
// scheduling. Validation is a read-only traversal producing a list of
// human-readable findings; an empty list means the tree is ready.
//
// A "content item" is any directory that directly contains a video
// file. It must hold exactly one video, at least one thumbnail image
// and a metadata.json sidecar with the required fields. A directory
// named "shorts" groups short-form items and must never nest inside
// another shorts directory at any depth.
package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MetadataFile is the sidecar description record looked up in every
	// content item directory.
	MetadataFile = "metadata.json"

	shortsDirName = "shorts"
	videoExt      = ".mp4"
)

// RequiredFields are the keys every metadata.json must carry.
// Order here is the order missing-field findings are reported in.
var RequiredFields = []string{"title", "description"}

var thumbExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// ValidateProject walks the whole content tree rooted at root and
// returns all findings in traversal order. Findings are not
// deduplicated and carry no severity; the caller decides whether any
// of them are acceptable.
func ValidateProject(root string) []string {
	var errs []string
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return append(errs, fmt.Sprintf("%s is not a directory", root))
	}
	walk(root, false, &errs)
	return errs
}

// ValidateFolder runs the content-item checks against a single
// directory, without the recursive shorts-nesting rule. Non-directory
// paths are reported as such.
func ValidateFolder(dir string) []string {
	var errs []string
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return append(errs, fmt.Sprintf("%s is not a directory", dir))
	}
	validateItem(dir, &errs)
	return errs
}

func walk(dir string, inShorts bool, errs *[]string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("cannot read directory %s: %v", dir, err))
		return
	}

	hasVideo := false
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if e.Name() == shortsDirName {
				if inShorts {
					// Structural rule: a shorts collection may not nest inside
					// another one. Report once and do not descend further.
					*errs = append(*errs, fmt.Sprintf("Nested shorts directory not allowed: %s", path))
					continue
				}
				walk(path, true, errs)
			} else {
				walk(path, inShorts, errs)
			}
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), videoExt) {
			hasVideo = true
		}
	}

	if hasVideo {
		validateItem(dir, errs)
	}
}

func validateItem(dir string, errs *[]string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("cannot read directory %s: %v", dir, err))
		return
	}

	video := ""
	thumb := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		// ReadDir returns entries sorted by name, so when more than one
		// video is present the lexicographically smallest wins.
		if ext == videoExt && video == "" {
			video = e.Name()
		}
		if thumbExts[ext] && thumb == "" {
			thumb = e.Name()
		}
	}

	if video == "" {
		*errs = append(*errs, fmt.Sprintf("Missing %s file in %s", videoExt, dir))
	}
	if thumb == "" {
		*errs = append(*errs, fmt.Sprintf("Missing thumbnail in %s", dir))
	}

	metaPath := filepath.Join(dir, MetadataFile)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("Missing %s in %s", MetadataFile, dir))
		return
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		*errs = append(*errs, fmt.Sprintf("Invalid JSON in %s", metaPath))
		return
	}
	for _, field := range RequiredFields {
		if _, ok := data[field]; !ok {
			*errs = append(*errs, fmt.Sprintf("Metadata missing field '%s' in %s", field, metaPath))
		}
	}
}
