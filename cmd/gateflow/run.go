package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/engine"
	"github.com/gateflow/gateflow/flow"
)

// runTurn executes one conversational turn against a flow definition file
// and prints the event stream.
func runTurn(args []string) {
	fs, configPath := newFlagSet("run")
	definitionPath := fs.String("definition", "", "Flow definition file (YAML)")
	input := fs.String("input", "", "User input for the turn")
	scriptPath := fs.String("script", "", "Scripted completions file (YAML)")
	approveTools := fs.Bool("approve-tools", false, "Auto-approve confirmation-required tools")
	fs.Parse(args)

	if *definitionPath == "" {
		fmt.Fprintln(os.Stderr, "run: --definition is required")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := mustLogger(cfg)

	completer, err := loadScript(*scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load script: %v\n", err)
		os.Exit(1)
	}

	a, err := buildApp(cfg, logger, completer, defaultTools())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to wire engine: %v\n", err)
		os.Exit(1)
	}
	defer a.shutdown()

	ctx := context.Background()

	data, err := os.ReadFile(*definitionPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read definition: %v\n", err)
		os.Exit(1)
	}
	def, err := flow.ParseDefinition(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse definition: %v\n", err)
		os.Exit(1)
	}
	if err := a.engine.SaveDefinition(ctx, def); err != nil {
		fmt.Fprintf(os.Stderr, "Definition rejected: %v\n", err)
		os.Exit(1)
	}

	inst, err := a.engine.CreateInstance(ctx, def.ID, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create instance: %v\n", err)
		os.Exit(1)
	}

	turn, err := a.engine.StartTurn(ctx, inst.ID, *input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start turn: %v\n", err)
		os.Exit(1)
	}

	exitCode := 0
	for ev := range turn.Events() {
		switch ev.Type {
		case engine.EventToken:
			fmt.Print(ev.Token)

		case engine.EventNodeComplete:
			fmt.Printf("\n[node %s] route=%s", ev.NodeID, ev.Route)
			if ev.Decision != "" {
				fmt.Printf(" decision=%s rationale=%q", ev.Decision, ev.Rationale)
			}
			fmt.Println()

		case engine.EventConfirmationRequired:
			inv := ev.Invocation
			fmt.Printf("\n[confirmation] tool=%s invocation=%s %s\n", inv.ToolName, inv.ID, inv.Title)
			if err := a.engine.ConfirmTool(ctx, inst.ID, inv.ID, *approveTools); err != nil {
				logger.Warn("confirmation failed", zap.Error(err))
			}

		case engine.EventTerminal:
			fmt.Printf("\n[turn %d] status=%s", ev.Turn, ev.Status)
			if ev.Error != "" {
				fmt.Printf(" error=%s (%s)", ev.Error, ev.ErrorCode)
				exitCode = 1
			}
			fmt.Println()
		}
	}
	os.Exit(exitCode)
}
