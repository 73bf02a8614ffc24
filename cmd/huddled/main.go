// ABOUTME: Entry point for the huddled chat server
// ABOUTME: Commands to serve, seed demo data, mint tokens and check health

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/huddle/internal/auth"
	"github.com/2389/huddle/internal/config"
	"github.com/2389/huddle/internal/conversation"
	"github.com/2389/huddle/internal/server"
	"github.com/2389/huddle/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _               _     _ _          _
 | |__  _   _  __| | __| | | ___  __| |
 | '_ \| | | |/ _' |/ _' | |/ _ \/ _' |
 | | | | |_| | (_| | (_| | |  __/ (_| |
 |_| |_|\__,_|\__,_|\__,_|_|\___|\__,_|
`

// getConfigPath returns the path to the config file.
// Priority: HUDDLE_CONFIG env var > XDG_CONFIG_HOME/huddle/huddle.yaml > ~/.config/huddle/huddle.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HUDDLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "huddle.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "huddle", "huddle.yaml")
}

func usage() {
	fmt.Println("Usage: huddled <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                       Start the server")
	fmt.Println("  seed                        Populate the database with demo conversations")
	fmt.Println("  token --user ID [--ttl D]   Print a signed token for a user")
	fmt.Println("  health                      Check server health")
	fmt.Println("  version                     Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "seed":
		err = runSeed(ctx)
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s ", cfg.Database.Path)
	gray.Printf("(%s)\n", cfg.Database.Driver)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting huddled",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runSeed(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	st, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	result, err := seedDemo(ctx, conversation.New(st, nil, nil, logger))
	if err != nil {
		return fmt.Errorf("seeding: %w", err)
	}

	green.Printf("  ✓ Group conversation:  %s\n", result.GroupID)
	green.Printf("  ✓ Direct conversation: %s\n", result.DirectID)
	green.Printf("  ✓ Messages:            %d\n", result.Messages)
	fmt.Println()
	fmt.Printf("  Connect as one of %s with:\n", strings.Join(demoUsers, ", "))
	fmt.Println("    huddled token --user alice")
	return nil
}

// runToken prints a signed token. Supports both "--user value" and
// "--user=value" forms.
func runToken(args []string) error {
	var userID string
	ttl := 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			userID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			userID = strings.TrimPrefix(arg, "--user=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("--user flag is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
