package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/kivuli/internal/config"
)

var (
	execConfigPath string
	execFile       string
	execTimeoutMS  int
	execMemoryMB   int
	execFormat     string
	execReset      bool
)

var execCmd = &cobra.Command{
	Use:   "exec [code]",
	Short: "Execute Python code once and print the result",
	Long: `Executes Python code in the sandbox and prints the captured output.
Code is taken from the argument, from --file, or from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	execCmd.Flags().StringVarP(&execFile, "file", "f", "", "read code from file ('-' for stdin)")
	execCmd.Flags().IntVar(&execTimeoutMS, "timeout", 0, "execution timeout in milliseconds (default: server-configured)")
	execCmd.Flags().IntVar(&execMemoryMB, "memory", 0, "V8 heap limit in MB (default: server-configured)")
	execCmd.Flags().StringVar(&execFormat, "format", "text", "output format: text or json")
	execCmd.Flags().BoolVar(&execReset, "reset", false, "start a fresh interpreter")
}

func runExec(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	code, err := readCode(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadOrDefault(goutils.Env("KIVULI_CONFIG", execConfigPath))
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := map[string]any{
		"code":   code,
		"format": execFormat,
	}
	// Flag presence, not the value, decides whether the server default
	// applies: a passed value (even 0) goes through and gets clamped.
	if cmd.Flags().Changed("timeout") {
		params["timeout_ms"] = execTimeoutMS
	}
	if cmd.Flags().Changed("memory") {
		params["memory_mb"] = execMemoryMB
	}
	if execReset {
		params["reset"] = true
	}

	tool := sc.Registry.Get("python_sandbox")
	result, err := tool.Execute(ctx, params)
	if err != nil {
		return err
	}

	fmt.Print(result.Output)
	if !result.Success {
		return fmt.Errorf("execution failed: %s", result.Error)
	}
	return nil
}

// readCode resolves the code source: positional argument, --file, or stdin.
func readCode(args []string) (string, error) {
	if len(args) == 1 && args[0] != "" {
		return args[0], nil
	}
	switch execFile {
	case "":
		return "", fmt.Errorf("no code given: pass it as an argument or via --file")
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(execFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", execFile, err)
		}
		return string(data), nil
	}
}
