package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/config"
	"library-circulation/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// cli carries what every command needs once the root command has run.
type cli struct {
	cfg     config.Config
	log     *slog.Logger
	mgr     *library.LibraryManager
	dbPath  string
	driver  string
	jsonOut bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	err := c.rootCommand().ExecuteContext(ctx)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	if err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "library",
		Short:         "Copy inventory and circulation for a library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
				return nil
			}
			return c.open()
		},
	}
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "database file (sqlite3) or URL (pgx); overrides LIBRARY_DB_DSN")
	root.PersistentFlags().StringVar(&c.driver, "driver", "", "sqlite3 or pgx; overrides LIBRARY_DB_DRIVER")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		c.itemCommand(),
		c.copyCommand(),
		c.memberCommand(),
		c.borrowCommand(),
		c.serveCommand(),
	)
	return root
}

func (c *cli) open() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.DBDsn = c.dbPath
	}
	if c.driver != "" {
		cfg.DBDriver = c.driver
	}
	c.cfg = cfg
	c.log = cfg.NewLogger(os.Stderr)

	db, err := library.Open(cfg.DBDriver, cfg.DBDsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	c.mgr = library.NewManager(db,
		library.WithLogger(c.log),
		library.WithRetryConfig(cfg.Retry()),
	)
	return nil
}

// close releases the database, whether or not the command succeeded.
func (c *cli) close() error {
	if c.mgr == nil {
		return nil
	}
	return c.mgr.Close()
}

// printResult writes v as JSON when --json is set, otherwise calls human.
func (c *cli) printResult(v any, human func()) error {
	if !c.jsonOut {
		human()
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// readPIN reads a PIN with masking on a terminal, or a plain line when
// stdin is piped.
func readPIN(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read PIN: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Print(prompt)
	pin, err := term.ReadPassword(fd)
	fmt.Println() // newline after masked input
	if err != nil {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	return strings.TrimSpace(string(pin)), nil
}

func parseID(raw, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, &library.FormatError{Field: what, Value: raw, Want: "a positive integer"}
	}
	return id, nil
}

func optionalID(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
