package main

import (
	"flag"
	"fmt"

	"github.com/HyphaGroup/execstream/internal/auth"
)

func cmdToken(args []string) error {
	if len(args) < 1 || args[0] != "generate" {
		fmt.Println(`Usage: execstream token generate [--name <name>] [--scope read|write]`)
		return exitError{code: 1}
	}

	fs := flag.NewFlagSet("token generate", flag.ExitOnError)
	name := fs.String("name", "default", "Token name shown in audit logs")
	scope := fs.String("scope", auth.ScopeRead, "Token scope: read or write")
	_ = fs.Parse(args[1:])

	if !auth.ValidScope(*scope) {
		return fmt.Errorf("--scope must be %s or %s", auth.ScopeRead, auth.ScopeWrite)
	}

	secret, err := auth.GenerateToken()
	if err != nil {
		return err
	}

	fmt.Printf("Token: %s\n\n", secret)
	fmt.Println("Add it to execstream.jsonc:")
	fmt.Printf(`  "mcp": {
    "tokens": [
      {"name": %q, "token": %q, "scope": %q}
    ]
  }
`, *name, secret, *scope)
	fmt.Println("\nThe secret is not stored anywhere else; keep it safe.")
	return nil
}
