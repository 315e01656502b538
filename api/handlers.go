package api

import (
	"github.com/gofiber/fiber/v2"

	"library-circulation/library"
)

type addItemRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

type addCopiesRequest struct {
	Count              int    `json:"count"`
	AccessionNumber    string `json:"accessionNumber"`
	Branch             string `json:"branch"`
	Location           string `json:"location"`
	Status             string `json:"status"`
	ReservedByMemberID *int64 `json:"reservedByMemberId"`
}

type statusRequest struct {
	Status             string `json:"status"`
	ReservedByMemberID *int64 `json:"reservedByMemberId"`
}

type accessionRequest struct {
	AccessionNumber string `json:"accessionNumber"`
}

type addMemberRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	BorrowerCategory string `json:"borrowerCategory"`
	PIN              string `json:"pin"`
}

// selfServiceRequest is a borrow request made by the member, who proves
// identity with a PIN.
type selfServiceRequest struct {
	library.BorrowRequest
	PIN string `json:"pin"`
}

type dueResponse struct {
	BorrowID      string `json:"borrowId"`
	ReturnDate    string `json:"returnDate"`
	DaysRemaining int    `json:"daysRemaining"`
	Message       string `json:"message"`
}

// ------------------ Catalog items ------------------

func (s *Server) handleListItems(c *fiber.Ctx) error {
	items, err := s.mgr.GetAllCatalogItems(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(items)
}

func (s *Server) handleAddItem(c *fiber.Ctx) error {
	var req addItemRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	id, err := s.mgr.AddCatalogItem(c.UserContext(), req.Title, req.Author)
	if err != nil {
		return err
	}
	item, err := s.mgr.GetCatalogItem(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

func (s *Server) handleListItemCopies(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if _, err := s.mgr.GetCatalogItem(c.UserContext(), id); err != nil {
		return err
	}
	copies, err := s.mgr.ListCopies(c.UserContext(), library.CopyFilter{CatalogItemID: id})
	if err != nil {
		return err
	}
	return c.JSON(copies)
}

func (s *Server) handleAddCopies(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req addCopiesRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	cr := library.CopyRequest{
		Count:              req.Count,
		AccessionNumber:    req.AccessionNumber,
		Branch:             req.Branch,
		Location:           req.Location,
		ReservedByMemberID: req.ReservedByMemberID,
	}
	if req.Status != "" {
		if cr.Status, err = library.ParseCopyStatus(req.Status); err != nil {
			return err
		}
	}
	copies, err := s.mgr.AddCopies(c.UserContext(), id, cr)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(copies)
}

func (s *Server) handleAvailable(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if _, err := s.mgr.GetCatalogItem(c.UserContext(), id); err != nil {
		return err
	}
	n, err := s.mgr.AvailableCopies(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"catalogItemId": id, "available": n})
}

// ------------------ Copies ------------------

func (s *Server) handleListCopies(c *fiber.Ctx) error {
	var (
		f   library.CopyFilter
		err error
	)
	if f.CatalogItemID, err = queryID(c, "catalogItemId"); err != nil {
		return err
	}
	if raw := c.Query("status"); raw != "" {
		if f.Status, err = library.ParseCopyStatus(raw); err != nil {
			return err
		}
	}
	f.Branch = c.Query("branch")
	copies, err := s.mgr.ListCopies(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(copies)
}

func (s *Server) handleGetCopy(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	cp, err := s.mgr.GetCopy(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(cp)
}

func (s *Server) handleUpdateStatus(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	to, err := library.ParseCopyStatus(req.Status)
	if err != nil {
		return err
	}
	cp, err := s.mgr.UpdateCopyStatus(c.UserContext(), id, to, req.ReservedByMemberID)
	if err != nil {
		return err
	}
	return c.JSON(cp)
}

func (s *Server) handleEditAccession(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req accessionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := s.mgr.EditAccessionNumber(c.UserContext(), id, req.AccessionNumber); err != nil {
		return err
	}
	cp, err := s.mgr.GetCopy(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(cp)
}

func (s *Server) handleDeleteCopy(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.mgr.DeleteCopy(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCopyEvents(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	events, err := s.mgr.CopyEvents(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(events)
}

func (s *Server) handleReturnCopy(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	rec, err := s.mgr.ReturnCopy(c.UserContext(), id, s.now())
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// ------------------ Members ------------------

func (s *Server) handleListMembers(c *fiber.Ctx) error {
	members, err := s.mgr.GetAllMembers(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(members)
}

func (s *Server) handleAddMember(c *fiber.Ctx) error {
	var req addMemberRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	id, err := s.mgr.AddMember(c.UserContext(), library.Member{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Category: library.BorrowerCategory(req.BorrowerCategory),
	}, req.PIN)
	if err != nil {
		return err
	}
	m, err := s.mgr.GetMember(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

// ------------------ Borrows ------------------

func (s *Server) handleListBorrows(c *fiber.Ctx) error {
	var (
		f   library.BorrowFilter
		err error
	)
	if f.MemberID, err = queryID(c, "memberId"); err != nil {
		return err
	}
	if f.CopyID, err = queryID(c, "copyId"); err != nil {
		return err
	}
	if st := c.Query("state"); st != "" {
		f.States = []library.BorrowState{library.BorrowState(st)}
	}
	borrows, err := s.mgr.ListBorrows(c.UserContext(), f)
	if err != nil {
		return err
	}
	return c.JSON(borrows)
}

func (s *Server) handleRequestBorrow(c *fiber.Ctx) error {
	var req selfServiceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := s.mgr.AuthenticateMember(c.UserContext(), req.MemberID, req.PIN); err != nil {
		s.log.Warn("self-service authentication failed", "member_id", req.MemberID, "err", err)
		return errUnauthorized
	}
	rec, err := s.mgr.RequestBorrow(c.UserContext(), req.BorrowRequest, s.now())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) handleAddApprovedBorrow(c *fiber.Ctx) error {
	var req library.BorrowRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	rec, err := s.mgr.AddApprovedBorrow(c.UserContext(), req, s.now())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) handleGetBorrow(c *fiber.Ctx) error {
	rec, err := s.mgr.GetBorrow(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleApprove(c *fiber.Ctx) error {
	rec, err := s.mgr.ApproveBorrow(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleReject(c *fiber.Ctx) error {
	rec, err := s.mgr.RejectBorrow(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) handleDue(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, err := s.mgr.GetBorrow(c.UserContext(), id)
	if err != nil {
		return err
	}
	days, msg, err := s.mgr.DueStatus(c.UserContext(), id, s.now())
	if err != nil {
		return err
	}
	return c.JSON(dueResponse{BorrowID: id, ReturnDate: rec.ReturnDate, DaysRemaining: days, Message: msg})
}
