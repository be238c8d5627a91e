package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cassio-all/generic-wpp-chatbot/internal/settings"
)

var knownSecretNames = []string{
	settings.KeyAnthropicAPIKey,
	settings.KeyOpenAIAPIKey,
	settings.KeyBraveAPIKey,
	settings.KeySendgridAPIKey,
}

func secretCmd(args []string) {
	if len(args) < 1 {
		secretUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "set":
		secretSetCmd(args[1:])
	case "path":
		fs := flag.NewFlagSet("secret path", flag.ExitOnError)
		configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
		_ = fs.Parse(args[1:])
		fmt.Println(settings.DefaultSecretsPath(resolveConfigPath(*configPath)))
	default:
		secretUsage()
		os.Exit(2)
	}
}

func secretSetCmd(args []string) {
	fs := flag.NewFlagSet("secret set", flag.ExitOnError)
	configPath := fs.String("config-path", "", "Config path (default: ~/.generic-wpp-chatbot/config.json)")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 2 {
		secretUsage()
		os.Exit(2)
	}
	name := strings.ToLower(strings.TrimSpace(rest[0]))
	value := strings.TrimSpace(rest[1])

	if !isKnownSecretName(name) {
		fmt.Fprintf(os.Stderr, "unknown secret %q (want one of: %s)\n", name, strings.Join(knownSecretNames, ", "))
		os.Exit(2)
	}

	store := settings.NewSecretsStore(settings.DefaultSecretsPath(resolveConfigPath(*configPath)))
	if err := store.Set(name, value); err != nil {
		fatalf("failed to store secret: %v", err)
	}
	fmt.Printf("Secret %q stored in %s\n", name, store.Path())
}

func isKnownSecretName(name string) bool {
	for _, known := range knownSecretNames {
		if name == known {
			return true
		}
	}
	return false
}

func secretUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  chatbot secret set <name> <value> [flags]
  chatbot secret path [flags]

Secrets: %s
`, strings.Join(knownSecretNames, ", "))
}
