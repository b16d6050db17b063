// gateflow command entry point.
//
// Usage:
//
//	gateflow run --definition flow.yaml --input "hello"   # run one turn locally
//	gateflow serve --config config.yaml                   # serve the stream relay
//	gateflow version                                      # show version info
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runTurn(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig resolves configuration from an optional file path.
func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (YAML)")
	return fs, configPath
}

func mustLogger(cfg *config.Config) *zap.Logger {
	logger := config.NewLogger(cfg.Log)
	return logger
}

func printVersion() {
	fmt.Printf("gateflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`gateflow - conversational flow execution engine

Usage:
  gateflow <command> [options]

Commands:
  run       Run one conversational turn against a flow definition
  serve     Start the WebSocket event relay and metrics endpoint
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>       Path to configuration file (YAML)
  --definition <path>   Flow definition file (YAML, required)
  --input <text>        User input for the turn
  --script <path>       Scripted completions file (YAML)
  --approve-tools       Auto-approve confirmation-required tools

Options for 'serve':
  --config <path>       Path to configuration file (YAML)
  --definitions <dir>   Directory of flow definition YAML files
  --script <path>       Scripted completions file (YAML)

Examples:
  gateflow run --definition examples/support.yaml --input "reset my password"
  gateflow serve --config /etc/gateflow/config.yaml --definitions ./flows
  gateflow version`)
}
