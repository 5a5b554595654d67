package validate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// makeItem creates a fully valid content item directory.
func makeItem(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "episode.mp4"), "video")
	writeFile(t, filepath.Join(dir, "cover.jpg"), "img")
	writeFile(t, filepath.Join(dir, MetadataFile), `{"title":"t","description":"d"}`)
}

func TestValidItemNoErrors(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	makeItem(t, filepath.Join(root, "ep1"))

	if errs := ValidateProject(root); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestMissingArtifacts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		remove string
		want   string
	}{
		{name: "missing thumbnail", remove: "cover.jpg", want: "Missing thumbnail"},
		{name: "missing metadata", remove: MetadataFile, want: "Missing " + MetadataFile},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			item := filepath.Join(root, "ep1")
			makeItem(t, item)
			if err := os.Remove(filepath.Join(item, tt.remove)); err != nil {
				t.Fatalf("remove: %v", err)
			}

			errs := ValidateProject(root)
			if len(errs) == 0 {
				t.Fatal("expected at least one error")
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("no error mentioning %q in %v", tt.want, errs)
			}
		})
	}
}

func TestMissingVideoViaSingleFolder(t *testing.T) {
	t.Parallel()
	// Removing the video hides the directory from item detection in the
	// recursive walk, so the single-folder entry point must flag it.
	dir := t.TempDir()
	makeItem(t, dir)
	if err := os.Remove(filepath.Join(dir, "episode.mp4")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	errs := ValidateFolder(dir)
	found := false
	for _, e := range errs {
		if strings.Contains(e, "Missing .mp4 file") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing video error, got %v", errs)
	}
}

func TestValidateFolderNotADirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	writeFile(t, file, "x")

	errs := ValidateFolder(file)
	if len(errs) != 1 || !strings.Contains(errs[0], "is not a directory") {
		t.Fatalf("unexpected errors: %v", errs)
	}

	errs = ValidateFolder(filepath.Join(root, "nope"))
	if len(errs) != 1 || !strings.Contains(errs[0], "is not a directory") {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestNestedShorts(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	nested := filepath.Join(root, "shorts", "a", "shorts")
	makeItem(t, filepath.Join(nested, "b"))
	// A valid sibling branch must still be checked.
	makeItem(t, filepath.Join(root, "regular", "ep2"))

	errs := ValidateProject(root)
	count := 0
	for _, e := range errs {
		if strings.Contains(e, "Nested shorts directory not allowed") {
			count++
			if !strings.Contains(e, nested) {
				t.Fatalf("error should name %s, got %q", nested, e)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one nested-shorts error, got %d in %v", count, errs)
	}
}

func TestNestedShortsDoesNotDescend(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	// Broken item below the illegally nested shorts dir: its findings
	// must not surface since traversal stops at the violation.
	broken := filepath.Join(root, "shorts", "x", "shorts", "bad")
	writeFile(t, filepath.Join(broken, "clip.mp4"), "video")

	errs := ValidateProject(root)
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if !strings.Contains(errs[0], "Nested shorts directory not allowed") {
		t.Fatalf("unexpected error: %v", errs[0])
	}
}

func TestSiblingShortsAllowed(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	makeItem(t, filepath.Join(root, "seasons", "s1", "shorts", "clip1"))
	makeItem(t, filepath.Join(root, "seasons", "s2", "shorts", "clip2"))

	if errs := ValidateProject(root); len(errs) != 0 {
		t.Fatalf("sibling shorts collections should be legal, got %v", errs)
	}
}

func TestMalformedMetadataReportsOnce(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	item := filepath.Join(root, "ep1")
	makeItem(t, item)
	writeFile(t, filepath.Join(item, MetadataFile), `{"title": "unterminated`)

	errs := ValidateProject(root)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
	if !strings.Contains(errs[0], "Invalid JSON") {
		t.Fatalf("unexpected error: %v", errs[0])
	}
}

func TestMissingFieldsReportedIndividually(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	item := filepath.Join(root, "ep1")
	makeItem(t, item)
	writeFile(t, filepath.Join(item, MetadataFile), `{}`)

	errs := ValidateProject(root)
	if len(errs) != len(RequiredFields) {
		t.Fatalf("expected %d errors, got %v", len(RequiredFields), errs)
	}
	for i, field := range RequiredFields {
		if !strings.Contains(errs[i], "Metadata missing field '"+field+"'") {
			t.Fatalf("errs[%d] = %q, want field %q", i, errs[i], field)
		}
	}
}

func TestItemDetectionAtAnyDepth(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	// Directory holding a video plus subdirectories is still an item.
	item := filepath.Join(root, "a", "b", "c")
	makeItem(t, item)
	makeItem(t, filepath.Join(item, "extras", "bonus"))

	if errs := ValidateProject(root); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateProjectNotADirectory(t *testing.T) {
	t.Parallel()
	errs := ValidateProject(filepath.Join(t.TempDir(), "missing"))
	if len(errs) != 1 || !strings.Contains(errs[0], "is not a directory") {
		t.Fatalf("unexpected errors: %v", errs)
	}
}
