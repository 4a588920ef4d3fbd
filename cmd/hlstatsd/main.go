// hlstatsd - game server statistics daemon and tools
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/hlstatsd/internal/api"
	"github.com/ernie/hlstatsd/internal/auth"
	"github.com/ernie/hlstatsd/internal/cache"
	"github.com/ernie/hlstatsd/internal/config"
	"github.com/ernie/hlstatsd/internal/dispatch"
	"github.com/ernie/hlstatsd/internal/identity"
	"github.com/ernie/hlstatsd/internal/ingest"
	"github.com/ernie/hlstatsd/internal/journal"
	"github.com/ernie/hlstatsd/internal/modules"
	"github.com/ernie/hlstatsd/internal/queries"
	"github.com/ernie/hlstatsd/internal/roster"
	"github.com/ernie/hlstatsd/internal/saga"
	"github.com/ernie/hlstatsd/internal/session"
	"github.com/ernie/hlstatsd/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/hlstatsd/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("hlstatsd %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: hlstatsd <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the stats daemon")
	fmt.Println("  status                              Show all servers status")
	fmt.Println("  leaderboard --game <code> [--sort skill|kills] [--top N]")
	fmt.Println("                                      Show top players (default: 25)")
	fmt.Println("  user add [--admin] <username>       Add an operator (prompts for password)")
	fmt.Println("  user remove <username>              Remove an operator")
	fmt.Println("  user list                           List all operators")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/hlstatsd/config.yml)")
	fmt.Println("  --url <url>        Base URL of the hlstatsd server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  hlstatsd serve --config /etc/hlstatsd/config.yml")
	fmt.Println("  hlstatsd leaderboard --game css --top 10")
	fmt.Println("  hlstatsd user add --admin myuser")
}

// cmdServe starts the stats daemon
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	// Load configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("hlstatsd %s starting...", version)
	log.Printf("Monitoring %d servers", len(cfg.GameServers))

	// Initialize storage
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	// Query cache: a real store when enabled, otherwise a no-op stand-in.
	// Everything downstream takes the same interface either way.
	var cacheStore cache.Store
	if cfg.Cache.Enabled {
		cacheStore = cache.NewMemoryStore(cfg.Cache.SweepInterval)
		log.Printf("Query cache enabled (sweep every %v)", cfg.Cache.SweepInterval)
	} else {
		cacheStore = cache.NewNoopStore()
		log.Printf("Query cache disabled")
	}
	defer cacheStore.Close()

	bus := cache.NewBus()
	if err := queries.RegisterHandlers(bus, store); err != nil {
		log.Fatalf("Failed to register query handlers: %v", err)
	}
	cached := cache.NewCachedBus(bus, cacheStore, cfg.Cache.DefaultTTL)

	// Identity resolution and live sessions
	resolver := identity.NewResolver(store, cfg.Games.Default)
	table := session.NewTable(resolver, store)

	// Stat modules
	playerMod := modules.NewPlayerModule(store, cached, table, cfg.Events.ConnectWindow)
	weaponMod := modules.NewWeaponModule(store)
	matchMod := modules.NewMatchModule(store)
	rankingMod := modules.NewRankingModule(store, cached)
	actionMod := modules.NewActionModule(store)

	// Saga engine handles kills transactionally
	engine := saga.NewEngine()
	if err := engine.Register(modules.NewKillSaga(playerMod, weaponMod, matchMod, rankingMod)); err != nil {
		log.Fatalf("Failed to register kill saga: %v", err)
	}

	router := dispatch.NewRouter(dispatch.Config{
		Resolver:    resolver,
		Engine:      engine,
		Player:      playerMod,
		Weapon:      weaponMod,
		Match:       matchMod,
		Ranking:     rankingMod,
		Action:      actionMod,
		Concurrency: cfg.Events.DispatchConcurrency,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional processed-event journal
	var jnl *journal.Journal
	var consumerJournal ingest.Journal
	if cfg.Journal.Dir != "" {
		jnl, err = journal.Open(cfg.Journal.Dir, cfg.Journal.MaxBytes)
		if err != nil {
			log.Fatalf("Failed to open event journal: %v", err)
		}
		consumerJournal = jnl
		log.Printf("Journaling events to %s", cfg.Journal.Dir)
	}

	// Auth service
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Auth tokens will use an empty secret.")
	}

	// Event transport
	consumer := ingest.NewConsumer(cfg.NATS, router, consumerJournal)
	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start event consumer: %v", err)
	}

	// Roster poller publishes synthetic lifecycle events onto the same subject
	publisher := ingest.PublisherFromConn(consumer.Conn(), cfg.NATS.Subject)
	poller := roster.NewPoller(cfg, store, table, publisher)
	if err := poller.Start(ctx); err != nil {
		log.Fatalf("Failed to start roster poller: %v", err)
	}
	log.Printf("Roster poller started, polling every %v", cfg.Server.PollInterval)

	// HTTP router, with the live feed wired in as the consumer's broadcast sink
	apiRouter := api.NewRouter(store, cached, poller, authService)
	consumer.SetBroadcaster(apiRouter.Feed())
	apiRouter.StartFeed()

	// Start HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      apiRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for signal or error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Fatalf("HTTP server error: %v", err)
	}

	// Sequential shutdown
	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping roster poller...")
	poller.Stop()

	log.Println("Stopping event consumer...")
	consumer.Stop()

	if jnl != nil {
		if err := jnl.Close(); err != nil {
			log.Printf("Journal close error: %v", err)
		}
	}

	cancel()
	log.Println("Shutdown complete")
}

// CLI helper variables
var (
	baseURL = "http://localhost:8080"
	dbPath  string
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		dbPath = "/var/lib/hlstatsd/hlstatsd.db"
		if url != "" {
			baseURL = url
		}
		return nil
	}

	dbPath = cfg.Database.Path
	// Derive URL from config, but allow --url flag to override
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func loadCLIConfig(args []string) (*config.Config, []string) {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the hlstatsd server")
	fs.Parse(args)

	cfg := loadCLIConfigFromFlags(*configPath, *url)
	return cfg, fs.Args()
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the hlstatsd server")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var statuses []map[string]interface{}
	if err := getJSON("/api/servers/status", &statuses); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tGAME\tMAP\tPLAYERS\tSTATUS")
	fmt.Fprintln(w, "------\t----\t---\t-------\t------")

	for _, st := range statuses {
		name := "-"
		game := "-"
		if srv, ok := st["server"].(map[string]interface{}); ok {
			if n, ok := srv["name"].(string); ok {
				name = n
			}
			if g, ok := srv["game"].(string); ok {
				game = g
			}
		}

		mapName := "-"
		players := 0
		if r, ok := st["roster"].(map[string]interface{}); ok {
			if m, ok := r["map"].(string); ok && m != "" {
				mapName = m
			}
		}
		if p, ok := st["players"].(float64); ok {
			players = int(p)
		}

		statusStr := "ONLINE"
		if online, ok := st["online"].(bool); ok && !online {
			statusStr = "OFFLINE"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", name, game, mapName, players, statusStr)
	}

	w.Flush()
}

func cmdLeaderboard(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the hlstatsd server")
	game := fs.String("game", "", "game code (e.g. css, tf)")
	sortBy := fs.String("sort", "skill", "ranking order: skill or kills")
	top := fs.Int("top", 25, "number of players to show")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	if *game == "" {
		fmt.Fprintf(os.Stderr, "Error: --game is required\n")
		os.Exit(1)
	}

	var result struct {
		Game    string `json:"game"`
		SortBy  string `json:"sort_by"`
		Entries []struct {
			Rank   int `json:"rank"`
			Player struct {
				ID     int64  `json:"id"`
				Name   string `json:"name"`
				Skill  int    `json:"skill"`
				Kills  int64  `json:"kills"`
				Deaths int64  `json:"deaths"`
			} `json:"player"`
		} `json:"entries"`
	}
	path := fmt.Sprintf("/api/stats/leaderboard?game=%s&sort=%s&limit=%d", *game, *sortBy, *top)
	if err := getJSON(path, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(result.Entries) == 0 {
		fmt.Printf("No ranked players for game %s\n", *game)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tSKILL\tKILLS\tDEATHS\tKDR")
	fmt.Fprintln(w, "----\t------\t-----\t-----\t------\t---")

	for _, e := range result.Entries {
		kdr := float64(e.Player.Kills)
		if e.Player.Deaths > 0 {
			kdr = float64(e.Player.Kills) / float64(e.Player.Deaths)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%.2f\n",
			e.Rank, e.Player.Name, e.Player.Skill, e.Player.Kills, e.Player.Deaths, kdr)
	}

	w.Flush()
}

func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list\n")
		os.Exit(1)
	}

	subCmd := args[0]
	cfg, remaining := loadCLIConfig(args[1:])
	_ = cfg // cfg may be nil if config loading failed

	store, err := storage.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	switch subCmd {
	case "add":
		if err := cmdUserAdd(ctx, store, remaining); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "remove":
		if err := cmdUserRemove(ctx, store, remaining); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "list":
		if err := cmdUserList(ctx, store); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown user command: %s (use: add, remove, list)\n", subCmd)
		os.Exit(1)
	}
}

func cmdUserAdd(ctx context.Context, store *storage.Store, args []string) error {
	fs := flag.NewFlagSet("user add", flag.ExitOnError)
	isAdmin := fs.Bool("admin", false, "create as admin user")
	fs.Parse(args)

	remaining := fs.Args()
	if len(remaining) < 1 {
		return fmt.Errorf("usage: hlstatsd user add [--admin] <username>")
	}
	username := remaining[0]

	if existing, _ := store.GetUserByUsername(ctx, username); existing != nil {
		return fmt.Errorf("user '%s' already exists", username)
	}

	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.CreateUser(ctx, username, hash, *isAdmin); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	role := "user"
	if *isAdmin {
		role = "admin"
	}
	fmt.Printf("User '%s' created (%s)\n", username, role)
	return nil
}

func cmdUserRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hlstatsd user remove <username>")
	}
	username := args[0]

	if err := store.DeleteUser(ctx, username); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}

	fmt.Printf("User '%s' removed\n", username)
	return nil
}

func cmdUserList(ctx context.Context, store *storage.Store) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tCREATED")
	fmt.Fprintln(w, "--------\t----\t-------")

	for _, user := range users {
		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", user.Username, role, user.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
