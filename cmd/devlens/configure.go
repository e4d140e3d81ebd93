package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devlens/devlens/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Store AI provider API keys in the OS keychain",
	RunE:  runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	km := config.NewKeyringManager()

	fmt.Println("DevLens stores API keys in your OS keychain, never in config files.")
	fmt.Println("Press Enter to skip a provider.")
	fmt.Println()

	items := []struct {
		label string
		item  string
	}{
		{"OpenAI API key", config.KeyringOpenAIItem},
		{"Gemini API key", config.KeyringGeminiItem},
	}

	saved := 0
	for _, entry := range items {
		fmt.Printf("%s: ", entry.label)
		key, err := readSecret()
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.label, err)
		}
		if key == "" {
			continue
		}
		if err := km.SaveKey(entry.item, key); err != nil {
			return fmt.Errorf("save %s: %w", entry.label, err)
		}
		saved++
	}

	if saved == 0 {
		fmt.Println("No keys saved. AI enrichment stays disabled until a key is configured.")
		return nil
	}
	fmt.Printf("Saved %d key(s). Run 'devlens serve' to pick them up.\n", saved)
	return nil
}

// readSecret reads a key without echoing when stdin is a terminal, and falls
// back to a plain line read for piped input.
func readSecret() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
