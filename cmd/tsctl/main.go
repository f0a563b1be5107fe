// main.go - Admin control tool for tagscope
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"gorm.io/gorm"

	"log/slog"

	"tagscope/internal"
	"tagscope/internal/config"
	"tagscope/internal/containers"
	"tagscope/internal/fetch"
	"tagscope/internal/inspections"
	"tagscope/internal/seeder"
	"tagscope/internal/settings"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&StatusCommand{},
	&AddContainerCommand{},
	&ListContainersCommand{},
	&InspectCommand{},
	&SetAPIKeyCommand{},
	&SeedCommand{},
	&HelpCommand{},
}

func main() {
	// Parse global flags
	flag.Parse()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Set up context with cancellation for cleanup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals in a separate goroutine
	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	// Parse command and arguments
	cmdName, args := parseArgs()

	// Find the requested command
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	// Try to initialize the app
	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
		// Let the command handle this situation
	}

	// Ensure app is cleaned up
	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	// Execute the command
	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// appDB returns the database connection, or an error when the app could not
// be initialized.
func appDB(app *internal.Application) (*gorm.DB, error) {
	if app == nil {
		return nil, fmt.Errorf("app initialization failed, cannot connect to database")
	}
	return app.DBManager.GetConnection(), nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

// Name returns the command name
func (c *StatusCommand) Name() string {
	return "status"
}

// Description returns the command description
func (c *StatusCommand) Description() string {
	return "Shows the current system status"
}

// Execute implements the status command
func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := appDB(app)
	if err != nil {
		return err
	}

	var containerCount, runCount int64
	if err := db.Model(&containers.Container{}).Count(&containerCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	db.Model(&inspections.Run{}).Count(&runCount)

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Containers: %d", containerCount)
	log.Printf("- Inspection runs: %d", runCount)
	if settings.HasAdminAPIKey(db) {
		log.Println("- API key: configured")
	} else {
		log.Println("- API key: NOT configured (run: tsctl set-api-key)")
	}

	// Check database statistics
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)

	return nil
}

// AddContainerCommand registers a container for auditing
type AddContainerCommand struct{}

func (c *AddContainerCommand) Name() string        { return "add" }
func (c *AddContainerCommand) Description() string { return "Registers a container, e.g. add GTM-ABC1234 [label]" }

func (c *AddContainerCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <GTM-XXXXXXX> [label]", c.Name())
	}

	db, err := appDB(app)
	if err != nil {
		return err
	}

	publicID := containers.NormalizePublicID(args[0])
	if !fetch.ValidContainerID(publicID) {
		return fmt.Errorf("invalid container ID %q, expected the GTM-XXXXXXX form", args[0])
	}

	container := containers.Container{PublicID: publicID, Label: strings.Join(args[1:], " ")}
	if err := containers.CreateContainer(db, &container); err != nil {
		return fmt.Errorf("failed to register container: %w", err)
	}

	log.Printf("Registered container %s", publicID)
	return nil
}

// ListContainersCommand lists registered containers
type ListContainersCommand struct{}

func (c *ListContainersCommand) Name() string        { return "list" }
func (c *ListContainersCommand) Description() string { return "Lists registered containers" }

func (c *ListContainersCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := appDB(app)
	if err != nil {
		return err
	}

	all, err := containers.GetAllContainers(db)
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	if len(all) == 0 {
		fmt.Println("No containers registered yet. Use: tsctl add GTM-XXXXXXX")
		return nil
	}

	for _, container := range all {
		last := "never"
		if container.LastInspectedAt != nil {
			last = container.LastInspectedAt.Format(time.RFC3339)
		}
		label := container.Label
		if label == "" {
			label = "-"
		}
		fmt.Printf("%-12s  %-30s  last inspected: %s\n", container.PublicID, label, last)
	}

	return nil
}

// InspectCommand runs an inspection for one container
type InspectCommand struct{}

func (c *InspectCommand) Name() string        { return "inspect" }
func (c *InspectCommand) Description() string { return "Fetches and audits a registered container" }

func (c *InspectCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <GTM-XXXXXXX>", c.Name())
	}

	db, err := appDB(app)
	if err != nil {
		return err
	}

	cfg := config.GetConfig()
	var opts []fetch.Option
	if cfg.FetchUserAgent != "" {
		opts = append(opts, fetch.WithUserAgent(cfg.FetchUserAgent))
	}
	fetcher := fetch.NewClient(time.Duration(cfg.FetchTimeoutSeconds)*time.Second, opts...)

	summary, err := inspections.Inspect(ctx, db, slog.Default(), fetcher, args[0])
	if err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}

	log.Printf("Inspection of %s completed:", summary.ContainerID)
	log.Printf("- Data model located: %v", summary.Located)
	log.Printf("- Tags: %d", summary.TagCount)
	log.Printf("- Triggers: %d", summary.TriggerCount)
	log.Printf("- Variables: %d", summary.VariableCount)
	log.Printf("- Vendor hits: %d", summary.VendorCount)
	log.Printf("- Duration: %dms", summary.DurationMs)
	return nil
}

// SetAPIKeyCommand configures the admin API key
type SetAPIKeyCommand struct{}

func (c *SetAPIKeyCommand) Name() string        { return "set-api-key" }
func (c *SetAPIKeyCommand) Description() string { return "Sets the admin API key (or generates one with --generate)" }

func (c *SetAPIKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("set-api-key", flag.ContinueOnError)
	generate := fs.Bool("generate", false, "generate a random key and print it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := appDB(app)
	if err != nil {
		return err
	}

	if err := settings.SetupDefaultSettings(db); err != nil {
		return fmt.Errorf("failed to set up settings: %w", err)
	}

	if *generate {
		key, err := settings.GenerateAdminAPIKey(db)
		if err != nil {
			return fmt.Errorf("failed to generate API key: %w", err)
		}
		fmt.Println("Generated API key (store it now, it cannot be recovered):")
		fmt.Println(key)
		return nil
	}

	// Hidden prompt; the key never echoes to the terminal
	fmt.Print("Enter API key: ")
	key1, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	fmt.Print("Confirm API key: ")
	key2, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}

	if string(key1) != string(key2) {
		return fmt.Errorf("keys do not match")
	}

	if err := settings.SetAdminAPIKey(db, string(key1)); err != nil {
		return fmt.Errorf("failed to set API key: %w", err)
	}

	fmt.Println("API key updated successfully")
	return nil
}

// SeedCommand populates the DB with demo data
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with demo containers" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default())
	return se.Run(ctx)
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

// Name returns the command name
func (c *HelpCommand) Name() string {
	return "help"
}

// Description returns the command description
func (c *HelpCommand) Description() string {
	return "Shows usage information"
}

// Execute implements the help command
func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: tsctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	fmt.Println("Usage: tsctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	os.Exit(1)
}
