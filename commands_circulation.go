package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"library-circulation/api"
	"library-circulation/library"
)

func (c *cli) memberCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Library members"}

	var (
		m     library.Member
		noPIN bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a member and set a self-service PIN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var pin string
			if !noPIN {
				var err error
				if pin, err = readPIN(fmt.Sprintf("Enter PIN for %s: ", m.Name)); err != nil {
					return err
				}
				if pin == "" {
					return errors.New("PIN cannot be empty (use --no-pin to skip)")
				}
			}
			id, err := c.mgr.AddMember(cmd.Context(), m, pin)
			if err != nil {
				return err
			}
			member, err := c.mgr.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.printResult(member, func() {
				fmt.Printf("Added member '%s' (%s) with ID %d\n", member.Name, member.Category, member.ID)
			})
		},
	}
	add.Flags().StringVar(&m.Name, "name", "", "full name (required)")
	add.Flags().StringVar(&m.Email, "email", "", "email address")
	add.Flags().StringVar(&m.Phone, "phone", "", "phone number")
	add.Flags().StringVar((*string)(&m.Category), "category", string(library.CategoryStudent), "Student or Faculty")
	add.Flags().BoolVar(&noPIN, "no-pin", false, "do not set a PIN now")
	_ = add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := c.mgr.GetAllMembers(cmd.Context())
			if err != nil {
				return err
			}
			return c.printResult(members, func() {
				if len(members) == 0 {
					fmt.Println("No members registered.")
					return
				}
				fmt.Printf("%-5s %-30s %-10s %-30s %s\n", "ID", "Name", "Category", "Email", "PIN Set")
				fmt.Println(strings.Repeat("-", 85))
				for _, mem := range members {
					pinStatus := "No"
					if mem.PINHash != "" {
						pinStatus = "Yes"
					}
					fmt.Printf("%-5d %-30s %-10s %-30s %s\n", mem.ID, truncateString(mem.Name, 30), mem.Category, truncateString(mem.Email, 30), pinStatus)
				}
			})
		},
	}

	setPIN := &cobra.Command{
		Use:   "set-pin MEMBER_ID",
		Short: "Replace a member's self-service PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "memberId")
			if err != nil {
				return err
			}
			member, err := c.mgr.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			pin, err := readPIN(fmt.Sprintf("Enter new PIN for %s (ID: %d): ", member.Name, id))
			if err != nil {
				return err
			}
			if err := c.mgr.SetMemberPIN(cmd.Context(), id, pin); err != nil {
				return err
			}
			fmt.Printf("PIN updated for %s (ID: %d)\n", member.Name, id)
			return nil
		},
	}

	cmd.AddCommand(add, list, setPIN)
	return cmd
}

func (c *cli) borrowCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "borrow", Short: "Borrow requests, loans and returns"}
	cmd.AddCommand(
		c.borrowRequestCommand(),
		c.borrowAddCommand(),
		c.borrowDecideCommand("approve", "Approve a pending request; the copy becomes Borrowed", c.approve),
		c.borrowDecideCommand("reject", "Reject a pending request; the copy becomes Available", c.reject),
		c.borrowReturnCommand(),
		c.borrowListCommand(),
		c.borrowDueCommand(),
	)
	return cmd
}

func borrowFlags(cmd *cobra.Command, req *library.BorrowRequest) {
	cmd.Flags().Int64Var(&req.MemberID, "member", 0, "member ID (required)")
	cmd.Flags().Int64Var(&req.CatalogItemID, "item", 0, "catalog item ID (required)")
	cmd.Flags().Int64Var(&req.CopyID, "copy", 0, "copy ID (required)")
	cmd.Flags().StringVar(&req.ReturnDate, "date", "", "return date YYYY-MM-DD")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes for the librarian")
	for _, f := range []string{"member", "item", "copy"} {
		_ = cmd.MarkFlagRequired(f)
	}
}

func (c *cli) borrowRequestCommand() *cobra.Command {
	var req library.BorrowRequest
	request := &cobra.Command{
		Use:   "request",
		Short: "Self-service request: return within 7 days, inside 07:00-11:00 or 13:00-16:00",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := readPIN("Enter your PIN: ")
			if err != nil {
				return err
			}
			if err := c.mgr.AuthenticateMember(cmd.Context(), req.MemberID, pin); err != nil {
				return err
			}
			rec, err := c.mgr.RequestBorrow(cmd.Context(), req, time.Now())
			if err != nil {
				return err
			}
			return c.printResult(rec, func() {
				fmt.Printf("Request %s submitted; copy %d is reserved until a librarian decides.\n", rec.ID, rec.CopyID)
				fmt.Printf("Return by %s %s\n", rec.ReturnDate, rec.ReturnTime)
			})
		},
	}
	borrowFlags(request, &req)
	request.Flags().StringVar(&req.ReturnTime, "time", "", "return time HH:MM (required)")
	_ = request.MarkFlagRequired("date")
	_ = request.MarkFlagRequired("time")
	return request
}

func (c *cli) borrowAddCommand() *cobra.Command {
	var req library.BorrowRequest
	add := &cobra.Command{
		Use:   "add",
		Short: "Record an approved loan; the return date defaults to the member's loan length",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.mgr.AddApprovedBorrow(cmd.Context(), req, time.Now())
			if err != nil {
				return err
			}
			return c.printResult(rec, func() {
				fmt.Printf("Loan %s recorded; copy %d is due %s %s\n", rec.ID, rec.CopyID, rec.ReturnDate, rec.ReturnTime)
			})
		},
	}
	borrowFlags(add, &req)
	return add
}

func (c *cli) approve(cmd *cobra.Command, id string) (*library.BorrowRecord, error) {
	return c.mgr.ApproveBorrow(cmd.Context(), id)
}

func (c *cli) reject(cmd *cobra.Command, id string) (*library.BorrowRecord, error) {
	return c.mgr.RejectBorrow(cmd.Context(), id)
}

func (c *cli) borrowDecideCommand(use, short string, decide func(*cobra.Command, string) (*library.BorrowRecord, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " BORROW_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := decide(cmd, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return c.printResult(rec, func() {
				fmt.Printf("Borrow %s is now %s\n", rec.ID, rec.State)
			})
		},
	}
}

func (c *cli) borrowReturnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "return COPY_ID",
		Short: "Return a borrowed copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			copyID, err := parseID(args[0], "copyId")
			if err != nil {
				return err
			}
			now := time.Now()
			rec, err := c.mgr.ReturnCopy(cmd.Context(), copyID, now)
			if err != nil {
				return err
			}
			return c.printResult(rec, func() {
				fmt.Printf("Copy %d returned by member %d\n", copyID, rec.MemberID)
				if due, err := library.ParseDate(rec.ReturnDate); err == nil {
					if days := library.DaysRemaining(due, now); days < 0 {
						fmt.Printf("Returned late: %s\n", library.DueMessage(days))
					}
				}
			})
		},
	}
}

func (c *cli) borrowListCommand() *cobra.Command {
	var (
		f     library.BorrowFilter
		state string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List borrow records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if state != "" {
				f.States = []library.BorrowState{library.BorrowState(strings.ToLower(state))}
			}
			borrows, err := c.mgr.ListBorrows(cmd.Context(), f)
			if err != nil {
				return err
			}
			now := time.Now()
			return c.printResult(borrows, func() {
				if len(borrows) == 0 {
					fmt.Println("No borrow records.")
					return
				}
				fmt.Printf("%-36s %-7s %-6s %-9s %-11s %-6s %s\n", "ID", "Member", "Copy", "State", "Return", "Time", "Due")
				fmt.Println(strings.Repeat("-", 100))
				for _, b := range borrows {
					due := "-"
					if b.State == library.BorrowApproved || b.State == library.BorrowPending {
						if d, err := library.ParseDate(b.ReturnDate); err == nil {
							due = library.DueMessage(library.DaysRemaining(d, now))
						}
					}
					fmt.Printf("%-36s %-7d %-6d %-9s %-11s %-6s %s\n", b.ID, b.MemberID, b.CopyID, b.State, b.ReturnDate, b.ReturnTime, due)
				}
			})
		},
	}
	list.Flags().Int64Var(&f.MemberID, "member", 0, "only this member's records")
	list.Flags().Int64Var(&f.CopyID, "copy", 0, "only records for this copy")
	list.Flags().StringVar(&state, "state", "", "pending, approved, rejected or returned")
	return list
}

func (c *cli) borrowDueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "due BORROW_ID",
		Short: "Show how many days are left on a borrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			days, msg, err := c.mgr.DueStatus(cmd.Context(), id, time.Now())
			if err != nil {
				return err
			}
			return c.printResult(map[string]any{"borrowId": id, "daysRemaining": days, "message": msg}, func() {
				fmt.Printf("Borrow %s: %s\n", id, msg)
			})
		},
	}
}

func (c *cli) serveCommand() *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the circulation API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.HTTPAddr
			}
			c.log.Info("http server listening", "addr", addr, "driver", c.cfg.DBDriver)
			return api.NewServer(c.mgr, c.log).Listen(cmd.Context(), addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address; overrides LIBRARY_HTTP_ADDR")
	return serve
}
