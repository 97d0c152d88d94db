// Package applypatch implements the apply_patch tool's custom patch
// envelope: parsing, in-process hunk application, and the decision of
// whether a patch runs in-process or is re-invoked under the sandbox. It is
// the Go analog of codex-rs's tools/runtimes/apply_patch.rs.
package applypatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	beginMarker = "*** Begin Patch"
	endMarker   = "*** End Patch"

	addFilePrefix    = "*** Add File: "
	deleteFilePrefix = "*** Delete File: "
	updateFilePrefix = "*** Update File: "
	moveToPrefix     = "*** Move to: "
	hunkContextMark  = "@@"
)

// ChangeKind identifies the operation a single file change performs.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeDelete
	ChangeUpdate
)

// FileChange is one file-level operation inside a patch envelope.
type FileChange struct {
	Kind    ChangeKind
	Path    string
	MoveTo  string // set only for ChangeUpdate with "*** Move to:"
	Content string // full new content for ChangeAdd
	Hunks   []UpdateHunk
}

// UpdateHunk is one contiguous block of context/add/remove lines within an
// update, delimited by an optional "@@ context" line in the envelope.
type UpdateHunk struct {
	Context string // text following "@@", empty if none given
	Lines   []HunkLine
}

// HunkLine is a single line inside an update hunk, tagged with its verb.
type HunkLine struct {
	Kind LineKind
	Text string
}

// LineKind identifies whether a hunk line is unchanged context, an
// addition, or a removal.
type LineKind int

const (
	LineContext LineKind = iota
	LineAdd
	LineRemove
)

// Patch is a fully parsed apply_patch envelope.
type Patch struct {
	Changes []FileChange
}

// ParseEnvelope parses the "*** Begin Patch" / "*** End Patch" envelope
// format. It mirrors the original's line-oriented parser: headers drive a
// small state machine, and unrecognized lines inside a hunk are treated as
// context unless prefixed with '+' or '-'.
func ParseEnvelope(text string) (*Patch, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	idx := 0
	for idx < len(lines) && strings.TrimSpace(lines[idx]) == "" {
		idx++
	}
	if idx >= len(lines) || strings.TrimSpace(lines[idx]) != beginMarker {
		return nil, fmt.Errorf("apply_patch: missing %q header", beginMarker)
	}
	idx++

	patch := &Patch{}
	for idx < len(lines) {
		line := lines[idx]
		switch {
		case strings.TrimSpace(line) == endMarker:
			return patch, nil
		case strings.HasPrefix(line, addFilePrefix):
			change, next, err := parseAddFile(lines, idx)
			if err != nil {
				return nil, err
			}
			patch.Changes = append(patch.Changes, change)
			idx = next
		case strings.HasPrefix(line, deleteFilePrefix):
			path := strings.TrimPrefix(line, deleteFilePrefix)
			patch.Changes = append(patch.Changes, FileChange{Kind: ChangeDelete, Path: path})
			idx++
		case strings.HasPrefix(line, updateFilePrefix):
			change, next, err := parseUpdateFile(lines, idx)
			if err != nil {
				return nil, err
			}
			patch.Changes = append(patch.Changes, change)
			idx = next
		case strings.TrimSpace(line) == "":
			idx++
		default:
			return nil, fmt.Errorf("apply_patch: unexpected line %q", line)
		}
	}
	return nil, fmt.Errorf("apply_patch: missing %q footer", endMarker)
}

func parseAddFile(lines []string, start int) (FileChange, int, error) {
	path := strings.TrimPrefix(lines[start], addFilePrefix)
	var content []string
	idx := start + 1
	for idx < len(lines) {
		line := lines[idx]
		if strings.HasPrefix(line, "*** ") {
			break
		}
		if line == "" && idx == len(lines)-1 {
			idx++
			break
		}
		if !strings.HasPrefix(line, "+") {
			return FileChange{}, 0, fmt.Errorf("apply_patch: add-file line missing '+' prefix: %q", line)
		}
		content = append(content, strings.TrimPrefix(line, "+"))
		idx++
	}
	return FileChange{Kind: ChangeAdd, Path: path, Content: strings.Join(content, "\n") + "\n"}, idx, nil
}

func parseUpdateFile(lines []string, start int) (FileChange, int, error) {
	path := strings.TrimPrefix(lines[start], updateFilePrefix)
	change := FileChange{Kind: ChangeUpdate, Path: path}
	idx := start + 1

	if idx < len(lines) && strings.HasPrefix(lines[idx], moveToPrefix) {
		change.MoveTo = strings.TrimPrefix(lines[idx], moveToPrefix)
		idx++
	}

	var hunk *UpdateHunk
	for idx < len(lines) {
		line := lines[idx]
		switch {
		case strings.HasPrefix(line, "*** ") && !strings.HasPrefix(line, hunkContextMark):
			if hunk != nil {
				change.Hunks = append(change.Hunks, *hunk)
			}
			return change, idx, nil
		case strings.HasPrefix(line, hunkContextMark):
			if hunk != nil {
				change.Hunks = append(change.Hunks, *hunk)
			}
			hunk = &UpdateHunk{Context: strings.TrimSpace(strings.TrimPrefix(line, hunkContextMark))}
			idx++
		case line == "":
			idx++
		default:
			if hunk == nil {
				hunk = &UpdateHunk{}
			}
			kind, text, err := classifyHunkLine(line)
			if err != nil {
				return FileChange{}, 0, err
			}
			hunk.Lines = append(hunk.Lines, HunkLine{Kind: kind, Text: text})
			idx++
		}
	}
	if hunk != nil {
		change.Hunks = append(change.Hunks, *hunk)
	}
	return change, idx, nil
}

func classifyHunkLine(line string) (LineKind, string, error) {
	if line == "" {
		return LineContext, "", nil
	}
	switch line[0] {
	case '+':
		return LineAdd, line[1:], nil
	case '-':
		return LineRemove, line[1:], nil
	case ' ':
		return LineContext, line[1:], nil
	default:
		return LineContext, line, nil
	}
}

// Apply executes every change in the patch against files rooted at cwd,
// in-process (no subprocess, no sandbox). Errors report the path relative
// to cwd rather than the absolute path, so a denied or failed patch never
// leaks the caller's working directory into the model transcript.
func Apply(cwd string, patch *Patch) error {
	for _, change := range patch.Changes {
		if err := applyChange(cwd, change); err != nil {
			return err
		}
	}
	return nil
}

func applyChange(cwd string, change FileChange) error {
	abs := filepath.Join(cwd, change.Path)
	rel := change.Path

	switch change.Kind {
	case ChangeAdd:
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create directories for %s: %w", rel, relError(cwd, err))
		}
		if err := os.WriteFile(abs, []byte(change.Content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, relError(cwd, err))
		}
		return nil

	case ChangeDelete:
		if err := os.Remove(abs); err != nil {
			return fmt.Errorf("delete %s: %w", rel, relError(cwd, err))
		}
		return nil

	case ChangeUpdate:
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, relError(cwd, err))
		}
		updated, err := applyHunks(string(data), change.Hunks)
		if err != nil {
			return fmt.Errorf("apply update to %s: %w", rel, err)
		}
		destAbs := abs
		if change.MoveTo != "" {
			destAbs = filepath.Join(cwd, change.MoveTo)
			if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
				return fmt.Errorf("create directories for %s: %w", change.MoveTo, relError(cwd, err))
			}
		}
		if err := os.WriteFile(destAbs, []byte(updated), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, relError(cwd, err))
		}
		if change.MoveTo != "" && destAbs != abs {
			if err := os.Remove(abs); err != nil {
				return fmt.Errorf("remove original %s after move: %w", rel, relError(cwd, err))
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown change kind for %s", rel)
	}
}

// applyHunks rewrites content by locating each hunk's context/remove block
// as a contiguous subsequence of lines and splicing in the added lines,
// matching the original's forgiving context-matching (it tolerates the
// hunk's anchor line appearing anywhere, not just at an exact offset).
func applyHunks(content string, hunks []UpdateHunk) (string, error) {
	lines := strings.Split(content, "\n")
	for _, hunk := range hunks {
		var anchor []string
		for _, l := range hunk.Lines {
			if l.Kind == LineContext || l.Kind == LineRemove {
				anchor = append(anchor, l.Text)
			}
		}
		pos := findSubsequence(lines, anchor)
		if pos < 0 {
			return "", fmt.Errorf("could not locate context for hunk %q", hunk.Context)
		}

		var replacement []string
		for _, l := range hunk.Lines {
			if l.Kind == LineContext || l.Kind == LineAdd {
				replacement = append(replacement, l.Text)
			}
		}

		lines = append(lines[:pos], append(replacement, lines[pos+len(anchor):]...)...)
	}
	return strings.Join(lines, "\n"), nil
}

func findSubsequence(haystack, needle []string) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, want := range needle {
			if haystack[i+j] != want {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// relError strips any cwd prefix from err's message so a denied or failed
// patch never leaks the caller's absolute working directory.
func relError(cwd string, err error) error {
	msg := err.Error()
	trimmed := strings.ReplaceAll(msg, cwd+string(filepath.Separator), "")
	trimmed = strings.ReplaceAll(trimmed, cwd, ".")
	return fmt.Errorf("%s", trimmed)
}
