package main

import (
	"fmt"
	"os"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "watch":
		err = cmdWatch(args)
	case "mcp":
		err = cmdMCP(args)
	case "history":
		err = cmdHistory(args)
	case "token":
		err = cmdToken(args)
	case "version", "--version", "-v":
		fmt.Printf("execstream %s\n", Version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		var exit exitError
		if asExit(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`execstream %s - streaming execution and approval client

Usage: execstream <command> [options]

Commands:
  watch      Start an execution and follow its event stream
  mcp        Serve the execution controller as MCP tools (stdio or HTTP)
  history    List or prune persisted messages and outcomes
  token      Generate a bearer token for the MCP HTTP endpoint
  version    Print the version

Common Options:
  --config <dir>     Directory holding execstream.jsonc

Config Precedence:
  1. --config flag
  2. ./config/execstream.jsonc
  3. ~/.execstream/config/execstream.jsonc
  4. built-in defaults (EXECSTREAM_BASE_URL and EXECSTREAM_TOKEN still apply)

Examples:
  execstream watch --target daily-report
  execstream watch --target assistant --mode agent --auto-approve
  execstream mcp                         Serve MCP over stdio
  execstream mcp --http --addr :8790     Serve MCP over streamable HTTP
  execstream history list --execution exec-42
  execstream history prune --older-than 7
`, Version)
}
