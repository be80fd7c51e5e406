// Command sage is the interactive terminal client. It drives the router
// in-process, so it needs no daemon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"sage/internal/config"
	"sage/internal/di"
	"sage/internal/router"
)

var (
	promptColor    = color.New(color.FgYellow, color.Bold)
	assistantColor = color.New(color.FgGreen)
	toolColor      = color.New(color.FgCyan)
	errorColor     = color.New(color.FgRed, color.Bold)
)

func main() {
	os.Exit(run())
}

func run() int {
	// Without a configured vector store the REPL runs self-contained on the
	// in-process store.
	if os.Getenv("VECTOR_STORE_URL") == "" && os.Getenv("VECTOR_STORE_PROVIDER") == "" {
		os.Setenv("VECTOR_STORE_PROVIDER", "memory")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sage: invalid configuration: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := di.NewServices(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sage: startup failed: %v\n", err)
		return 3
	}
	defer func() { _ = services.Shutdown(context.Background()) }()

	sess := services.Router.NewSession("repl")
	defer sess.Close()

	fmt.Println("sage ready. Type a request, or \"exit\" to leave.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		promptColor.Print("sage> ")
		if !scanner.Scan() {
			fmt.Println()
			return 0
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return 0
		}

		for frag := range sess.Query(ctx, line) {
			printFragment(frag)
		}
		if ctx.Err() != nil {
			return 0
		}
	}
}

func printFragment(frag router.Fragment) {
	switch frag.Type {
	case router.FragmentAssistant:
		assistantColor.Println(frag.Text)
	case router.FragmentTool:
		toolColor.Printf("[%s]\n", frag.Marker)
		fmt.Println(frag.Text)
	case router.FragmentError:
		if frag.Error != nil {
			errorColor.Printf("error (%s): %s\n", frag.Error.Kind, frag.Error.Message)
			if frag.Error.CorrelationID != "" {
				errorColor.Printf("  correlation: %s\n", frag.Error.CorrelationID)
			}
		}
	}
}
