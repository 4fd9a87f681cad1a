// ABOUTME: Entry point for the obsidian local chat gateway
// ABOUTME: Serves the local API backed by the upstream backend-api

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/obsidianchat/obsidian/internal/api"
	"github.com/obsidianchat/obsidian/internal/config"
	"github.com/obsidianchat/obsidian/internal/creds"
	"github.com/obsidianchat/obsidian/internal/session"
	"github.com/obsidianchat/obsidian/internal/store"
	"github.com/obsidianchat/obsidian/internal/stream"
	"github.com/obsidianchat/obsidian/internal/transport"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _         _     _ _
  ___ | |__  ___(_) __| (_) __ _ _ __
 / _ \| '_ \/ __| |/ _' | |/ _' | '_ \
| (_) | |_) \__ \ | (_| | | (_| | | | |
 \___/|_.__/|___/_|\__,_|_|\__,_|_| |_|
`

// getConfigPath returns the path to the obsidian config file.
// Priority: OBSIDIAN_CONFIG env var > XDG_CONFIG_HOME/obsidian/config.yaml > ~/.config/obsidian/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OBSIDIAN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "obsidian", "config.yaml")
}

// getDataPath returns the path to the obsidian data directory.
// Priority: XDG_DATA_HOME/obsidian > ~/.local/share/obsidian
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "obsidian")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: obsidian <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the local API server")
		fmt.Println("  init     Create a default config file")
		fmt.Println("  login    Store upstream credentials")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "login":
		err = runLogin()
	case "health":
		err = runHealth(ctx)
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

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:  %s\n", cfg.Backend.BaseURL)

	credStore := creds.NewStore(cfg.Credentials.Path, logger)
	if exp, ok := credStore.TokenExpiry(); ok && time.Now().After(exp) {
		yellow.Print("    ▶ ")
		fmt.Printf("Token expired %s, run: obsidian login\n", exp.Format(time.RFC3339))
	}

	fmt.Println()

	logger.Info("starting obsidian",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Backend.BaseURL,
	)

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer sqlStore.Close()

	merger := stream.NewMerger(logger, func(conversationID string) {
		if err := sqlStore.Invalidate(context.Background(), conversationID); err != nil {
			logger.Warn("cache invalidation failed",
				"conversation_id", conversationID, "error", err)
		}
	})
	sess := session.New(logger, merger)
	client := transport.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, credStore, logger)
	apiServer := api.NewServer(client, sqlStore, sess, merger, cfg.Cache.DetailTTL, logger)

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("obsidian stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// runInit creates a default config file if one does not exist yet.
func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	if _, err := os.Stat(configPath); err == nil {
		cyan.Printf("  Config already exists: %s\n", configPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# obsidian configuration
# Generated by obsidian init

server:
  http_addr: "127.0.0.1:8098"

backend:
  base_url: "https://chatgpt.com"
  timeout: "30s"

database:
  path: "%s"

credentials:
  path: "%s"

cache:
  detail_ttl: "5m"

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "cache.db"), filepath.Join(filepath.Dir(configPath), "credentials.toml"))

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("  Next: obsidian login")
	return nil
}

// runLogin prompts for the upstream session token and cookie string and
// stores them in the credentials file.
func runLogin() error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config (run obsidian init first): %w", err)
	}

	logger := setupLogger(cfg.Logging)
	credStore := creds.NewStore(cfg.Credentials.Path, logger)

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("Access token: ")
	token, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("access token is required")
	}

	fmt.Print("Cookie string (optional): ")
	cookie, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading cookie: %w", err)
	}
	cookie = strings.TrimSpace(cookie)

	if err := credStore.Save(creds.Credentials{AccessToken: token, Cookie: cookie}); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Credentials saved: %s\n", cfg.Credentials.Path)

	if exp, ok := credStore.TokenExpiry(); ok {
		if time.Now().After(exp) {
			color.New(color.FgYellow).Printf("  ! Token already expired at %s\n", exp.Format(time.RFC3339))
		} else {
			fmt.Printf("  Token valid until %s\n", exp.Format(time.RFC3339))
		}
	}
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
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
