// Package utils provides utilities for managing the .gamesmith directory and
// user instruction files.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// GamesmithDir is the directory name for engine-specific files.
	GamesmithDir = ".gamesmith"

	// CommonInstructionsFile is the filename for common user instructions.
	CommonInstructionsFile = "COMMON.md"
	// CoderInstructionsFile is the filename for coder-specific user instructions.
	CoderInstructionsFile = "CODER.md"
	// PlannerInstructionsFile is the filename for planner-specific user instructions.
	PlannerInstructionsFile = "PLANNER.md"

	// UserInstructionsTokenLimit is the token limit for user instruction files (2000 tokens ~ 8000 chars).
	UserInstructionsTokenLimit = 2000
	// UserInstructionsCharLimit is the character limit for user instruction files (~8000 chars).
	UserInstructionsCharLimit = 8000
)

// UserInstructions holds the content of user instruction files.
type UserInstructions struct {
	Common  string
	Coder   string
	Planner string
}

// CreateGamesmithDirectory creates the .gamesmith directory structure with
// empty instruction files. Existing files are left untouched.
func CreateGamesmithDirectory(workDir string) error {
	dirPath := filepath.Join(workDir, GamesmithDir)

	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return fmt.Errorf("failed to create .gamesmith directory: %w", err)
	}

	instructionFiles := map[string]string{
		CommonInstructionsFile:  "# Common Instructions\n\n<!-- Add instructions that apply to both CODER and PLANNER agents here -->\n<!-- Maximum 2,000 tokens (~8,000 characters) -->\n",
		CoderInstructionsFile:   "# Coder Instructions\n\n<!-- Add generation-specific instructions here -->\n<!-- Examples: GDScript style, scene naming conventions, node structure rules -->\n<!-- Maximum 2,000 tokens (~8,000 characters) -->\n",
		PlannerInstructionsFile: "# Planner Instructions\n\n<!-- Add planning-specific instructions here -->\n<!-- Examples: preferred task breakdown, agents to favor for certain requests -->\n<!-- Maximum 2,000 tokens (~8,000 characters) -->\n",
	}

	for filename, defaultContent := range instructionFiles {
		filePath := filepath.Join(dirPath, filename)

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			if err := os.WriteFile(filePath, []byte(defaultContent), 0644); err != nil {
				return fmt.Errorf("failed to create %s: %w", filename, err)
			}
		}
	}

	return nil
}

// LoadUserInstructions loads user instruction files from the .gamesmith directory.
// Returns empty strings for missing/empty files, returns error for unreadable files.
func LoadUserInstructions(workDir string) (*UserInstructions, error) {
	dirPath := filepath.Join(workDir, GamesmithDir)

	instructions := &UserInstructions{}

	counter, _ := NewTokenCounter() // a nil counter estimates chars/4

	files := map[string]*string{
		CommonInstructionsFile:  &instructions.Common,
		CoderInstructionsFile:   &instructions.Coder,
		PlannerInstructionsFile: &instructions.Planner,
	}

	for filename, target := range files {
		filePath := filepath.Join(dirPath, filename)

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			*target = ""
			continue
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w (please check file permissions)", filename, err)
		}

		contentStr := string(content)

		if len(contentStr) > UserInstructionsCharLimit {
			return nil, fmt.Errorf("%s exceeds character limit of %d (current: %d)",
				filename, UserInstructionsCharLimit, len(contentStr))
		}

		if !counter.ValidateTokenLimit(contentStr, UserInstructionsTokenLimit) {
			return nil, fmt.Errorf("%s exceeds token limit of %d (current: %d)",
				filename, UserInstructionsTokenLimit, counter.CountTokens(contentStr))
		}

		*target = contentStr
	}

	return instructions, nil
}

// FormatUserInstructions formats user instructions for inclusion in system prompts.
// Returns empty string if no instructions are provided.
func FormatUserInstructions(instructions *UserInstructions, agentType string) string {
	if instructions == nil {
		return ""
	}

	var parts []string

	if instructions.Common != "" {
		parts = append(parts, "---\n## Common Instructions\n"+instructions.Common)
	}

	switch agentType {
	case "CODER":
		if instructions.Coder != "" {
			parts = append(parts, "---\n## Agent-Specific Instructions\n"+instructions.Coder)
		}
	case "PLANNER":
		if instructions.Planner != "" {
			parts = append(parts, "---\n## Agent-Specific Instructions\n"+instructions.Planner)
		}
	}

	if len(parts) == 0 {
		return ""
	}

	return "\n" + strings.Join(parts, "\n")
}
