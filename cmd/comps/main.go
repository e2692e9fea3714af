package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/comps/internal/config"
	"github.com/hurttlocker/comps/internal/ingest"
	"github.com/hurttlocker/comps/internal/mcp"
	"github.com/hurttlocker/comps/internal/store"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "import":
		if err := runImport(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "query":
		if err := runQuery(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "cluster":
		if err := runCluster(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "clusters":
		if err := runClusters(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "stats":
		if err := runStats(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("comps %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// resolveAndOpen resolves configuration (with an optional --db override
// already extracted by the caller) and opens the store.
func resolveAndOpen(dbOverride string) (*store.SQLiteStore, config.ResolvedConfig, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{CLIDBPath: dbOverride})
	if err != nil {
		return nil, cfg, err
	}
	s, err := store.Open(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, cfg, fmt.Errorf("opening store: %w", err)
	}
	return s, cfg, nil
}

// flagValue pops "--flag value" pairs out of a manual argument scan.
func flagValue(args []string, i int, flag string) (string, error) {
	if i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", flag)
	}
	return args[i+1], nil
}

func runImport(args []string) error {
	var paths []string
	var dbPath string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--db":
			v, err := flagValue(args, i, "--db")
			if err != nil {
				return err
			}
			dbPath = v
			i++
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			paths = append(paths, args[i])
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("usage: comps import <matches.jsonl> [...] [--db <path>]")
	}

	s, _, err := resolveAndOpen(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	im := ingest.New(s)
	ctx := context.Background()

	total := &ingest.Report{}
	for _, path := range paths {
		fmt.Printf("Importing %s...\n", path)
		rep, err := im.ImportFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
			continue
		}
		total.Lines += rep.Lines
		total.Imported += rep.Imported
		total.Skipped += rep.Skipped
		total.Participants += rep.Participants
		total.Warnings = append(total.Warnings, rep.Warnings...)
	}

	fmt.Println()
	fmt.Printf("Imported %d matches (%d compositions), %d already present\n",
		total.Imported, total.Participants, total.Skipped)
	for _, w := range total.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	return nil
}

func runStats(args []string) error {
	var dbPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--db":
			v, err := flagValue(args, i, "--db")
			if err != nil {
				return err
			}
			dbPath = v
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	s, cfg, err := resolveAndOpen(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Database: %s\n", cfg.DBPath.Or(store.DefaultDBPath))
	fmt.Printf("  Matches:             %d\n", st.MatchCount)
	fmt.Printf("  Compositions:        %d\n", st.ParticipantCount)
	fmt.Printf("  Cluster assignments: %d\n", st.AssignmentCount)
	if st.DBSizeBytes > 0 {
		fmt.Printf("  Size:                %.1f MB\n", float64(st.DBSizeBytes)/(1<<20))
	}
	return nil
}

func runConfig(args []string) error {
	cfg, err := config.ResolveConfig(config.ResolveOptions{})
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runMCP(args []string) error {
	var dbPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--db":
			v, err := flagValue(args, i, "--db")
			if err != nil {
				return err
			}
			dbPath = v
			i++
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	s, cfg, err := resolveAndOpen(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := mcp.NewServer(mcp.ServerConfig{
		Store:     s,
		Algorithm: cfg.Algorithm.Value,
		Version:   version,
	})
	return mcpserver.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`comps %s — Match analytics for auto-battler compositions

Usage:
  comps <command> [arguments]

Commands:
  import <file>       Import matches from a JSONL dump
  query               Query composition stats with fluent conditions
  cluster             Run carry-based clustering (incremental by default)
  clusters            Report per-cluster performance
  stats               Show database statistics
  config              Show resolved configuration with provenance
  mcp                 Serve the MCP tool interface over stdio
  version             Print version

Global Flags:
  --db <path>         Database path (default %s)

Run 'comps query --help' or 'comps cluster --help' for command flags.
`, version, store.DefaultDBPath)
}
