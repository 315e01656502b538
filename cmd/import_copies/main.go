package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/config"
	"library-circulation/library"
)

// Expected header: title,author,copies,branch,location
var columns = []string{"title", "author", "copies", "branch", "location"}

type summary struct {
	Items  int
	Copies int
	Errors int
}

func main() {
	var dbPath string
	cmd := &cobra.Command{
		Use:          "import_copies FILE.csv",
		Short:        "Create catalog items and copies from a CSV file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBDsn = dbPath
			}

			db, err := library.Open(cfg.DBDriver, cfg.DBDsn)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			manager := library.NewManager(db,
				library.WithLogger(cfg.NewLogger(os.Stderr)),
				library.WithRetryConfig(cfg.Retry()),
			)
			defer manager.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			fmt.Printf("Importing copies from %s...\n", args[0])
			s, err := importCopies(cmd.Context(), manager, f, os.Stdout)
			if err != nil {
				return err
			}
			fmt.Printf("\nImport complete!\n")
			fmt.Printf("Catalog items: %d\n", s.Items)
			fmt.Printf("Copies: %d\n", s.Copies)
			fmt.Printf("Errors: %d\n", s.Errors)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "database file or URL; overrides LIBRARY_DB_DSN")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// importCopies creates one catalog item per row and the requested number
// of copies for it. A bad row is reported and skipped.
func importCopies(ctx context.Context, mgr *library.LibraryManager, r io.Reader, out io.Writer) (summary, error) {
	var s summary

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = len(columns)

	header, err := cr.Read()
	if err != nil {
		return s, fmt.Errorf("reading header: %w", err)
	}
	for i, col := range columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return s, fmt.Errorf("unexpected header %q, want %s", strings.Join(header, ","), strings.Join(columns, ","))
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(out, "line %d: ERROR - %v\n", line, err)
			s.Errors++
			continue
		}

		title, author := strings.TrimSpace(rec[0]), strings.TrimSpace(rec[1])
		count, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err != nil || count < 1 || count > library.MaxAccessionNumber {
			fmt.Fprintf(out, "line %d: ERROR - invalid copies %q\n", line, rec[2])
			s.Errors++
			continue
		}

		fmt.Fprintf(out, "Importing: %s by %s (%d copies)... ", title, author, count)
		itemID, err := mgr.AddCatalogItem(ctx, title, author)
		if err != nil {
			fmt.Fprintf(out, "ERROR - %v\n", err)
			s.Errors++
			continue
		}
		s.Items++

		copies, err := mgr.AddCopies(ctx, itemID, library.CopyRequest{
			Count:    count,
			Branch:   rec[3],
			Location: rec[4],
		})
		if err != nil {
			fmt.Fprintf(out, "ERROR - catalog item %d was created without copies: %v\n", itemID, err)
			s.Errors++
			continue
		}
		s.Copies += len(copies)
		fmt.Fprintf(out, "SUCCESS (item %d, accession %s-%s)\n",
			itemID, copies[0].AccessionNumber, copies[len(copies)-1].AccessionNumber)
	}
	return s, nil
}
