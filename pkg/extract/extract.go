// Package extract pulls generated project files out of model responses.
//
// A response is markdown-ish prose interleaved with fenced code blocks. A
// block becomes a file only when its opening fence carries a language tag and
// its first content line is a filename declaration comment, e.g.
//
//	```gdscript
//	# filename: scripts/player.gd
//	extends CharacterBody2D
//	```
//
// Everything else (bare fences, blocks without a declaration, unclosed
// blocks) is treated as prose and ignored.
package extract

import (
	"regexp"
	"strings"

	"gamesmith/pkg/proto"
)

// filenameDeclRegex matches a filename declaration comment. The comment
// marker varies by language: '#' (GDScript, shell), '//' (C-like, shader),
// ';' (INI-style resource files).
var filenameDeclRegex = regexp.MustCompile(`^\s*(?:#|//|;)\s*filename:\s*(.+?)\s*$`)

// fenceLanguage reports whether line opens a fenced code block with a
// language tag, and returns the tag.
func fenceLanguage(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "```") {
		return "", false
	}
	lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	if lang == "" || strings.Contains(lang, "`") {
		return "", false
	}
	// Only the first token counts; fences like "```gdscript tab=4" still
	// tag the block as gdscript.
	return strings.ToLower(strings.Fields(lang)[0]), true
}

// isFenceClose reports whether line closes an open fenced block.
func isFenceClose(line string) bool {
	return strings.TrimSpace(line) == "```"
}

// declaredFilename returns the path from a filename declaration line, or
// "" when the line is not a declaration.
func declaredFilename(line string) string {
	matches := filenameDeclRegex.FindStringSubmatch(line)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// Files extracts every qualifying fenced block from response, in document
// order. A response with no qualifying blocks yields an empty list; the
// caller decides whether that is an error.
func Files(response string) []proto.GeneratedFile {
	var files []proto.GeneratedFile

	lines := strings.Split(response, "\n")

	inBlock := false
	sawDecl := false
	var blockLang string
	var blockPath string
	var blockLines []string

	for _, line := range lines {
		if !inBlock {
			if lang, ok := fenceLanguage(line); ok {
				inBlock = true
				sawDecl = false
				blockLang = lang
				blockPath = ""
				blockLines = blockLines[:0]
			}
			continue
		}

		if isFenceClose(line) {
			if sawDecl && blockPath != "" {
				files = append(files, proto.GeneratedFile{
					Path:    blockPath,
					Content: strings.Join(blockLines, "\n"),
					Type:    blockLang,
				})
			}
			inBlock = false
			continue
		}

		// First content line decides whether this block is a file at all.
		if !sawDecl {
			sawDecl = true
			blockPath = declaredFilename(line)
			continue
		}

		if blockPath != "" {
			blockLines = append(blockLines, line)
		}
	}

	// An unclosed block is prose, never an artifact.
	return files
}
