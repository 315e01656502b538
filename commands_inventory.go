package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"library-circulation/library"
)

func (c *cli) itemCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Catalog items that copies belong to"}

	var title, author string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a catalog item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.mgr.AddCatalogItem(cmd.Context(), title, author)
			if err != nil {
				return err
			}
			item, err := c.mgr.GetCatalogItem(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printResult(item, func() {
				fmt.Printf("Added catalog item '%s' with ID %d\n", item.Title, item.ID)
			})
		},
	}
	add.Flags().StringVar(&title, "title", "", "title (required)")
	add.Flags().StringVar(&author, "author", "", "author")
	_ = add.MarkFlagRequired("title")

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog items with their available copy counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := c.mgr.GetAllCatalogItems(cmd.Context())
			if err != nil {
				return err
			}
			type row struct {
				*library.CatalogItem
				Available int `json:"available"`
			}
			rows := make([]row, 0, len(items))
			for _, it := range items {
				n, err := c.mgr.AvailableCopies(cmd.Context(), it.ID)
				if err != nil {
					return err
				}
				rows = append(rows, row{CatalogItem: it, Available: n})
			}
			return c.printResult(rows, func() {
				if len(rows) == 0 {
					fmt.Println("No catalog items.")
					return
				}
				fmt.Printf("%-5s %-35s %-25s %s\n", "ID", "Title", "Author", "Available")
				fmt.Println(strings.Repeat("-", 80))
				for _, r := range rows {
					fmt.Printf("%-5d %-35s %-25s %d\n", r.ID, truncateString(r.Title, 35), truncateString(r.Author, 25), r.Available)
				}
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func (c *cli) copyCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "copy", Short: "Physical copies and their accession numbers"}
	cmd.AddCommand(
		c.copyAddCommand(),
		c.copyListCommand(),
		c.copyStatusCommand(),
		c.copyEditAccessionCommand(),
		c.copyDeleteCommand(),
		c.copyEventsCommand(),
	)
	return cmd
}

func (c *cli) copyAddCommand() *cobra.Command {
	var (
		req        library.CopyRequest
		status     string
		reservedBy int64
	)
	add := &cobra.Command{
		Use:   "add ITEM_ID",
		Short: "Add copies to a catalog item, allocating accession numbers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID, err := parseID(args[0], "catalogItemId")
			if err != nil {
				return err
			}
			if status != "" {
				if req.Status, err = library.ParseCopyStatus(status); err != nil {
					return err
				}
			}
			req.ReservedByMemberID = optionalID(reservedBy)

			copies, err := c.mgr.AddCopies(cmd.Context(), itemID, req)
			if err != nil {
				return err
			}
			return c.printResult(copies, func() {
				for _, cp := range copies {
					fmt.Printf("Added copy %d (copy #%d) with accession number %s\n", cp.ID, cp.CopyNumber, cp.AccessionNumber)
				}
			})
		},
	}
	add.Flags().IntVar(&req.Count, "count", 1, "number of copies")
	add.Flags().StringVar(&req.AccessionNumber, "accession", "", "manual 7-digit accession number (single copy only)")
	add.Flags().StringVar(&req.Branch, "branch", "", "holding branch")
	add.Flags().StringVar(&req.Location, "location", "", "shelf location")
	add.Flags().StringVar(&status, "status", "", "initial status (default Available)")
	add.Flags().Int64Var(&reservedBy, "reserved-by", 0, "member ID, required when status is Reserved")
	return add
}

func (c *cli) copyListCommand() *cobra.Command {
	var (
		f      library.CopyFilter
		status string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List copies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				var err error
				if f.Status, err = library.ParseCopyStatus(status); err != nil {
					return err
				}
			}
			copies, err := c.mgr.ListCopies(cmd.Context(), f)
			if err != nil {
				return err
			}
			return c.printResult(copies, func() { printCopies(copies) })
		},
	}
	list.Flags().Int64Var(&f.CatalogItemID, "item", 0, "only copies of this catalog item")
	list.Flags().StringVar(&status, "status", "", "only copies with this status")
	list.Flags().StringVar(&f.Branch, "branch", "", "only copies held at this branch")
	return list
}

func printCopies(copies []*library.Copy) {
	if len(copies) == 0 {
		fmt.Println("No copies.")
		return
	}
	fmt.Printf("%-6s %-6s %-6s %-10s %-14s %-12s %-12s %s\n", "ID", "Item", "Copy#", "Accession", "Status", "Branch", "Location", "Reserved By")
	fmt.Println(strings.Repeat("-", 90))
	for _, cp := range copies {
		reserved := "-"
		if cp.ReservedByMemberID != nil {
			reserved = fmt.Sprint(*cp.ReservedByMemberID)
		}
		fmt.Printf("%-6d %-6d %-6d %-10s %-14s %-12s %-12s %s\n",
			cp.ID, cp.CatalogItemID, cp.CopyNumber, cp.AccessionNumber, cp.Status,
			truncateString(cp.Branch, 12), truncateString(cp.Location, 12), reserved)
	}
}

func (c *cli) copyStatusCommand() *cobra.Command {
	var reservedBy int64
	status := &cobra.Command{
		Use:   "status COPY_ID STATUS",
		Short: "Change a copy's status (Available, Borrowed, Reserved, Lost, \"Under Repair\", Paid, Pending)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID(args[0], "copyId")
			if err != nil {
				return err
			}
			to, err := library.ParseCopyStatus(args[1])
			if err != nil {
				return err
			}
			cp, err := c.mgr.UpdateCopyStatus(cmd.Context(), copyID, to, optionalID(reservedBy))
			if err != nil {
				return err
			}
			return c.printResult(cp, func() {
				fmt.Printf("Copy %d is now %s\n", cp.ID, cp.Status)
			})
		},
	}
	status.Flags().Int64Var(&reservedBy, "reserved-by", 0, "member ID, required for Reserved")
	return status
}

func (c *cli) copyEditAccessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit-accession COPY_ID NUMBER",
		Short: "Override a copy's accession number",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID(args[0], "copyId")
			if err != nil {
				return err
			}
			if err := c.mgr.EditAccessionNumber(cmd.Context(), copyID, strings.TrimSpace(args[1])); err != nil {
				return err
			}
			cp, err := c.mgr.GetCopy(cmd.Context(), copyID)
			if err != nil {
				return err
			}
			return c.printResult(cp, func() {
				fmt.Printf("Copy %d now has accession number %s\n", cp.ID, cp.AccessionNumber)
			})
		},
	}
}

func (c *cli) copyDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete COPY_ID",
		Short: "Delete a copy; its accession number is retired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID(args[0], "copyId")
			if err != nil {
				return err
			}
			if err := c.mgr.DeleteCopy(cmd.Context(), copyID); err != nil {
				return err
			}
			fmt.Printf("Deleted copy %d\n", copyID)
			return nil
		},
	}
}

func (c *cli) copyEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events COPY_ID",
		Short: "Show a copy's status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID(args[0], "copyId")
			if err != nil {
				return err
			}
			events, err := c.mgr.CopyEvents(cmd.Context(), copyID)
			if err != nil {
				return err
			}
			return c.printResult(events, func() {
				if len(events) == 0 {
					fmt.Println("No events recorded.")
					return
				}
				for _, e := range events {
					from := e.FromStatus
					if from == "" {
						from = "-"
					}
					line := fmt.Sprintf("%s  %-20s %s -> %s", e.OccurredAt.Local().Format("2006-01-02 15:04:05"), e.Type, from, e.ToStatus)
					if e.FromAccession != "" && e.ToAccession != "" {
						line += fmt.Sprintf("  (accession %s -> %s)", e.FromAccession, e.ToAccession)
					}
					fmt.Println(line)
				}
			})
		},
	}
}
