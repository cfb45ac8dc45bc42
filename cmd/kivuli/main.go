// Kivuli — a sandboxed Python execution service built on Deno + Pyodide.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kivuli",
	Short: "Kivuli — sandboxed Python execution on Deno + Pyodide.",
	Long: `Kivuli runs untrusted Python code inside a locked-down Deno process
hosting a Pyodide (WebAssembly) interpreter. The worker persists across
executions for fast repeated calls, with strict timeouts, memory ceilings,
and output truncation. Exposes an HTTP API, an MCP stdio server, and a
one-shot CLI.`,
	RunE:          runServe, // Default to the HTTP server.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, execCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
