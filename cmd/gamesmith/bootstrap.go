package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"gamesmith/pkg/config"
	"gamesmith/pkg/utils"
)

// passwordEnvVar lets scripted runs skip the interactive password prompt.
const passwordEnvVar = "GAMESMITH_PASSWORD"

// handleSecretsDecryption loads encrypted credentials into memory when the
// project carries a secrets file. Without one this is a no-op and API keys
// come from the environment.
func handleSecretsDecryption(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	password := os.Getenv(passwordEnvVar)
	if password == "" {
		fmt.Printf("🔐 Project password (or set %s): ", passwordEnvVar)
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
		for i := range raw {
			raw[i] = 0
		}
	}

	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	config.SetDecryptedSecrets(secrets)

	fmt.Println("✅ Credentials loaded from encrypted storage")
	return nil
}

// runInit sets up a project interactively: the .gamesmith directory with
// default config and instruction files, then optional encrypted credential
// storage.
func runInit(projectDir string) error {
	fmt.Println("🎮 Setting up gamesmith project")

	if err := utils.CreateGamesmithDirectory(projectDir); err != nil {
		return err
	}
	fmt.Printf("✅ Project files ready in %s\n", filepath.Join(projectDir, config.ProjectConfigDir))

	return handleCredentialStorage(projectDir)
}

// handleCredentialStorage offers to store provider API keys encrypted in the
// project instead of reading them from environment variables.
func handleCredentialStorage(projectDir string) error {
	fmt.Println()
	fmt.Println("🔐 Credential Storage")
	fmt.Println()
	fmt.Println("By default, API keys for Anthropic, OpenAI, and Google are read from")
	fmt.Println("environment variables. They can instead be encrypted and stored in this")
	fmt.Println("project, protected by a password.")
	fmt.Println()
	fmt.Print("Store credentials in this project? [y/N]: ")

	scanner := bufio.NewScanner(os.Stdin)
	var choice string
	if scanner.Scan() {
		choice = strings.ToLower(strings.TrimSpace(scanner.Text()))
	}
	if choice != "y" && choice != "yes" {
		fmt.Println("✅ Using environment variables for credentials")
		return nil
	}

	password, err := promptForPassword()
	if err != nil {
		return fmt.Errorf("failed to get password: %w", err)
	}

	secrets := make(map[string]string)
	for _, envVar := range []string{
		config.EnvAnthropicAPIKey,
		config.EnvOpenAIAPIKey,
		config.EnvGoogleAPIKey,
	} {
		fmt.Printf("Enter %s (press Enter to skip): ", envVar)
		if !scanner.Scan() {
			break
		}
		if value := strings.TrimSpace(scanner.Text()); value != "" {
			secrets[envVar] = value
		}
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no credentials entered, nothing to store")
	}

	if err := config.EncryptSecretsFile(projectDir, password, secrets); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	fmt.Println("✅ Credentials encrypted and saved")
	return nil
}

// promptForPassword reads and confirms an encryption password, retrying on
// mismatch.
func promptForPassword() (string, error) {
	maxAttempts := 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Println()
		fmt.Print("Enter a password for this project: ")
		password1, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		fmt.Print("Confirm password: ")
		password2, err := term.ReadPassword(syscall.Stdin)
		fmt.Println() // New line after password input
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		if !bytes.Equal(password1, password2) {
			if attempt < maxAttempts {
				fmt.Println("❌ Passwords do not match. Please try again.")
				continue
			}
			return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
		}

		password := string(password1)

		// Clear password bytes from memory
		for i := range password1 {
			password1[i] = 0
		}
		for i := range password2 {
			password2[i] = 0
		}

		fmt.Println()
		fmt.Printf("⚠️  You'll need this password on every run, or export it as %s.\n", passwordEnvVar)

		return password, nil
	}

	return "", fmt.Errorf("failed to get matching passwords")
}
