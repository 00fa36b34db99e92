package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/example/taskflow/client"
	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

const (
	sessionCookie = "taskflow_session"
	sessionHeader = "X-Session-ID"
	localsSession = "view_session"
	imageField    = "image"
)

// setupRoutes configures all HTTP routes.
func (m *WebModule) setupRoutes() {
	// Health check
	m.app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	m.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	m.app.Get("/ws", m.sessionMiddleware, websocket.New(m.handleWebSocket))

	// REST API v1
	api := m.app.Group("/api/v1", m.sessionMiddleware)

	// Session lifecycle
	api.Get("/session", m.getSession)
	api.Post("/session/sign-in", m.signIn)
	api.Post("/session/sign-up", m.signUp)
	api.Post("/session/sign-out", m.signOut)
	api.Post("/session/resend-confirmation", m.resendConfirmation)
	api.Post("/session/verify", m.verifyEmail)

	// View state
	api.Get("/view", m.getView)
	api.Put("/view/filter", m.setFilter)
	api.Put("/view/search", m.setSearch)
	api.Post("/view/theme", m.toggleTheme)
	api.Post("/view/refresh", m.refresh)
	api.Delete("/view/notices/:key", m.dismissNotice)
	api.Put("/view/form", m.updateForm)
	api.Post("/view/form/image", m.attachImage)
	api.Delete("/view/form/image", m.detachImage)

	// Tasks
	api.Get("/tasks", m.listTasks)
	api.Post("/tasks", m.createTask)
	api.Post("/tasks/:id/toggle", m.toggleTask)
	api.Post("/tasks/:id/edit", m.beginEdit)
	api.Put("/tasks/:id/edit", m.updateEdit)
	api.Delete("/tasks/:id/edit", m.cancelEdit)
	api.Post("/tasks/:id/save", m.saveEdit)
	api.Post("/tasks/:id/delete", m.requestDelete)
	api.Delete("/tasks/:id/delete", m.cancelDelete)
	api.Delete("/tasks/:id", m.confirmDelete)
}

// sessionMiddleware attaches the browser session named by the session header
// or cookie, opening a new one when it is unknown.
func (m *WebModule) sessionMiddleware(c *fiber.Ctx) error {
	id := c.Get(sessionHeader)
	if id == "" {
		id = c.Cookies(sessionCookie)
	}
	s, ok := m.sessions.lookup(id)
	if !ok {
		var err error
		s, err = m.sessions.open(c.UserContext())
		if errors.Is(err, ErrNotConfigured) {
			if c.Method() == fiber.MethodGet && c.Path() == "/api/v1/view" {
				return c.JSON(client.ViewState{Configured: false, Theme: client.ThemeLight})
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
				Error:   "not_configured",
				Message: "Configuration required: set SUPABASE_URL and SUPABASE_ANON_KEY or run the embedded stack",
			})
		}
		if err != nil {
			m.logger.Error("Failed to open browser session", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Error:   "session_failed",
				Message: "Failed to open session",
			})
		}
		c.Cookie(&fiber.Cookie{
			Name:     sessionCookie,
			Value:    s.id,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	c.Set(sessionHeader, s.id)
	c.Locals(localsSession, s)
	return c.Next()
}

func current(c *fiber.Ctx) *viewSession {
	s, _ := c.Locals(localsSession).(*viewSession)
	return s
}

// classify maps an error to an HTTP status and an error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrRateLimited):
		return fiber.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, gateway.ErrInvalidCredentials):
		return fiber.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, gateway.ErrUnauthenticated), errors.Is(err, client.ErrNoActiveSession):
		return fiber.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, gateway.ErrEmailTaken):
		return fiber.StatusConflict, "email_taken"
	case errors.Is(err, client.ErrAccessRestricted), errors.Is(err, gateway.ErrEmailNotConfirmed):
		return fiber.StatusForbidden, "email_not_confirmed"
	case errors.Is(err, gateway.ErrForbidden):
		return fiber.StatusForbidden, "forbidden"
	case errors.Is(err, gateway.ErrImageTooLarge):
		return fiber.StatusRequestEntityTooLarge, "image_too_large"
	case errors.Is(err, gateway.ErrInvalidConfirmation):
		return fiber.StatusBadRequest, "invalid_confirmation"
	case errors.Is(err, task.ErrEmptyTitle), errors.Is(err, task.ErrInvalidFilter):
		return fiber.StatusBadRequest, "validation_error"
	case errors.Is(err, task.ErrNotFound), errors.Is(err, client.ErrNothingDeleted):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, client.ErrDeleteNotRequested):
		return fiber.StatusConflict, "delete_not_requested"
	case errors.Is(err, client.ErrSubmitInProgress):
		return fiber.StatusConflict, "submit_in_progress"
	case errors.Is(err, client.ErrUpload):
		return fiber.StatusBadGateway, "upload_failed"
	}
	switch client.KindOf(err) {
	case client.KindValidation:
		return fiber.StatusBadRequest, "validation_error"
	case client.KindPermission:
		return fiber.StatusForbidden, "forbidden"
	}
	return fiber.StatusInternalServerError, "internal_error"
}

func fail(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	return c.Status(status).JSON(ErrorResponse{Error: code, Message: client.Message(err)})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}

func state(c *fiber.Ctx, s *viewSession) error {
	return c.JSON(s.ctrl.State())
}

// formImage reads an uploaded image from a multipart body. It returns nil
// when the request carries no file under field.
func formImage(c *fiber.Ctx, field string) (*task.Image, error) {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("invalid multipart body: %w", err)
	}
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer f.Close()
	// One byte past the cap is enough for validation to reject it.
	data, err := io.ReadAll(io.LimitReader(f, gateway.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}
	return &task.Image{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Data:        data,
	}, nil
}

// healthHandler handles GET /health.
func (m *WebModule) healthHandler(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:  "healthy",
		Details: m.healthDetails(),
	})
}

// getSession handles GET /api/v1/session.
func (m *WebModule) getSession(c *fiber.Ctx) error {
	s := current(c)
	session := s.ctrl.Session()
	return c.JSON(SessionResponse{
		SessionID:        s.id,
		UserID:           s.ctrl.UserID(),
		User:             session.User(),
		AccessRestricted: session.AccessRestricted(),
	})
}

// parseCredentials returns the request, or a message describing why it is
// unusable.
func parseCredentials(c *fiber.Ctx) (CredentialsRequest, string) {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return req, "Invalid request body"
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return req, "Email and password are required"
	}
	return req, ""
}

// signIn handles POST /api/v1/session/sign-in.
func (m *WebModule) signIn(c *fiber.Ctx) error {
	req, problem := parseCredentials(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	s := current(c)
	if err := s.ctrl.SignIn(c.UserContext(), req.Email, req.Password); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// signUp handles POST /api/v1/session/sign-up.
func (m *WebModule) signUp(c *fiber.Ctx) error {
	req, problem := parseCredentials(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	s := current(c)
	if err := s.ctrl.SignUp(c.UserContext(), req.Email, req.Password); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// signOut handles POST /api/v1/session/sign-out. The local session ends even
// when revocation fails.
func (m *WebModule) signOut(c *fiber.Ctx) error {
	s := current(c)
	if err := s.ctrl.SignOut(c.UserContext()); err != nil {
		m.logger.Warn("Sign-out revocation failed", "browser_session", s.id, "error", err)
	}
	return state(c, s)
}

// resendConfirmation handles POST /api/v1/session/resend-confirmation.
func (m *WebModule) resendConfirmation(c *fiber.Ctx) error {
	s := current(c)
	if err := s.ctrl.ResendConfirmation(c.UserContext()); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// verifyEmail handles POST /api/v1/session/verify.
func (m *WebModule) verifyEmail(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return badRequest(c, "Confirmation code is required")
	}
	s := current(c)
	if err := s.ctrl.VerifyEmail(c.UserContext(), strings.TrimSpace(req.Code)); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// getView handles GET /api/v1/view.
func (m *WebModule) getView(c *fiber.Ctx) error {
	return state(c, current(c))
}

// setFilter handles PUT /api/v1/view/filter.
func (m *WebModule) setFilter(c *fiber.Ctx) error {
	var req FilterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	f, err := task.ParseFilter(req.Filter)
	if err != nil {
		return fail(c, err)
	}
	s := current(c)
	s.ctrl.SetFilter(c.UserContext(), f)
	return state(c, s)
}

// setSearch handles PUT /api/v1/view/search.
func (m *WebModule) setSearch(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	s := current(c)
	s.ctrl.TypeSearch(req.Search)
	if req.Flush {
		s.ctrl.FlushSearch()
	}
	return state(c, s)
}

// toggleTheme handles POST /api/v1/view/theme.
func (m *WebModule) toggleTheme(c *fiber.Ctx) error {
	return c.JSON(ThemeResponse{Theme: current(c).ctrl.ToggleTheme()})
}

// refresh handles POST /api/v1/view/refresh.
func (m *WebModule) refresh(c *fiber.Ctx) error {
	s := current(c)
	s.ctrl.Refresh(c.UserContext())
	return state(c, s)
}

// dismissNotice handles DELETE /api/v1/view/notices/:key.
func (m *WebModule) dismissNotice(c *fiber.Ctx) error {
	s := current(c)
	s.ctrl.DismissNotice(c.Params("key"))
	return state(c, s)
}

// applyForm copies the draft fields present in the body into the form.
func applyForm(c *fiber.Ctx, s *viewSession) error {
	if len(c.Body()) == 0 {
		return nil
	}
	var req FormRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}
	if req.Title != nil {
		s.ctrl.SetFormTitle(*req.Title)
	}
	if req.Description != nil {
		s.ctrl.SetFormDescription(*req.Description)
	}
	return nil
}

// updateForm handles PUT /api/v1/view/form.
func (m *WebModule) updateForm(c *fiber.Ctx) error {
	s := current(c)
	if err := applyForm(c, s); err != nil {
		return badRequest(c, "Invalid request body")
	}
	return state(c, s)
}

// attachImage handles POST /api/v1/view/form/image.
func (m *WebModule) attachImage(c *fiber.Ctx) error {
	img, err := formImage(c, imageField)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if img == nil {
		return badRequest(c, "An image file is required")
	}
	s := current(c)
	if err := s.ctrl.AttachImage(img); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// detachImage handles DELETE /api/v1/view/form/image.
func (m *WebModule) detachImage(c *fiber.Ctx) error {
	s := current(c)
	if err := s.ctrl.AttachImage(nil); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// listTasks handles GET /api/v1/tasks.
func (m *WebModule) listTasks(c *fiber.Ctx) error {
	s := current(c)
	if !s.ctrl.Session().SignedIn() {
		return fail(c, client.ErrNoActiveSession)
	}
	return c.JSON(s.ctrl.State().Tasks)
}

// createTask handles POST /api/v1/tasks. Fields in the body, JSON or
// multipart, are merged into the form draft before it is submitted.
func (m *WebModule) createTask(c *fiber.Ctx) error {
	s := current(c)
	if err := applyForm(c, s); err != nil {
		return badRequest(c, "Invalid request body")
	}
	img, err := formImage(c, imageField)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if img != nil {
		if err := s.ctrl.AttachImage(img); err != nil {
			return fail(c, err)
		}
	}

	if _, err := s.ctrl.SubmitForm(c.UserContext()); err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.ctrl.State())
}

// toggleTask handles POST /api/v1/tasks/:id/toggle.
func (m *WebModule) toggleTask(c *fiber.Ctx) error {
	s := current(c)
	if err := s.ctrl.ToggleTask(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// beginEdit handles POST /api/v1/tasks/:id/edit.
func (m *WebModule) beginEdit(c *fiber.Ctx) error {
	s := current(c)
	if err := s.ctrl.BeginEdit(c.Params("id")); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// updateEdit handles PUT /api/v1/tasks/:id/edit.
func (m *WebModule) updateEdit(c *fiber.Ctx) error {
	var req EditRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	var change task.ImageChange
	switch req.ImageAction {
	case "", task.ImageKeep.String():
		change = task.KeepImage()
	case task.ImageClear.String():
		change = task.ClearImage()
	case task.ImageReplace.String():
		img, err := formImage(c, imageField)
		if err != nil {
			return badRequest(c, err.Error())
		}
		if img == nil {
			return badRequest(c, "An image file is required to replace the image")
		}
		change = task.ReplaceImage(*img)
	default:
		return badRequest(c, "image_action must be keep, replace or clear")
	}

	s := current(c)
	in := client.EditInput{Title: req.Title, Description: req.Description, Image: change}
	if err := s.ctrl.UpdateEdit(c.Params("id"), in); err != nil {
		if client.KindOf(err) == "" {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Error:   "not_editing",
				Message: err.Error(),
			})
		}
		return fail(c, err)
	}
	return state(c, s)
}

// cancelEdit handles DELETE /api/v1/tasks/:id/edit.
func (m *WebModule) cancelEdit(c *fiber.Ctx) error {
	s := current(c)
	s.ctrl.CancelEdit(c.Params("id"))
	return state(c, s)
}

// saveEdit handles POST /api/v1/tasks/:id/save.
func (m *WebModule) saveEdit(c *fiber.Ctx) error {
	s := current(c)
	if err := s.ctrl.SaveEdit(c.UserContext(), c.Params("id")); err != nil {
		if client.KindOf(err) == "" && !errors.Is(err, task.ErrNotFound) {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
				Error:   "not_editing",
				Message: err.Error(),
			})
		}
		return fail(c, err)
	}
	return state(c, s)
}

// requestDelete handles POST /api/v1/tasks/:id/delete.
func (m *WebModule) requestDelete(c *fiber.Ctx) error {
	s := current(c)
	s.ctrl.RequestDelete(c.Params("id"))
	return state(c, s)
}

// cancelDelete handles DELETE /api/v1/tasks/:id/delete.
func (m *WebModule) cancelDelete(c *fiber.Ctx) error {
	s := current(c)
	s.ctrl.CancelDelete(c.Params("id"))
	return state(c, s)
}

// confirmDelete handles DELETE /api/v1/tasks/:id.
func (m *WebModule) confirmDelete(c *fiber.Ctx) error {
	s := current(c)
	if err := s.ctrl.ConfirmDelete(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return state(c, s)
}

// handleWebSocket pushes the session's ViewState at /ws and accepts search
// and refresh frames.
func (m *WebModule) handleWebSocket(c *websocket.Conn) {
	s, ok := c.Locals(localsSession).(*viewSession)
	if !ok {
		return
	}
	states, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	var writeMu sync.Mutex
	write := func(msg WSMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return c.WriteJSON(msg)
	}

	m.logger.Debug("View socket connected", "browser_session", s.id)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer unsubscribe()
		for {
			var msg WSMessage
			if err := c.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					m.logger.Debug("View socket read failed", "browser_session", s.id, "error", err)
				}
				return
			}
			s.touch(time.Now())
			switch msg.Type {
			case WSTypeSearch:
				s.ctrl.TypeSearch(msg.Value)
			case WSTypeRefresh:
				s.ctrl.Refresh(context.Background())
			default:
				_ = write(WSMessage{Type: WSTypeError, Error: "Unknown message type: " + msg.Type})
			}
		}
	}()

	for vs := range states {
		if err := write(WSMessage{Type: WSTypeState, State: &vs}); err != nil {
			break
		}
	}

	// The conn is released when the handler returns: unblock the reader and
	// wait for it first.
	writeMu.Lock()
	_ = c.Close()
	writeMu.Unlock()
	<-readerDone
	m.logger.Debug("View socket closed", "browser_session", s.id)
}
