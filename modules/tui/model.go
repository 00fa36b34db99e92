// Package tui is a terminal front end for the task view. It renders the
// controller's ViewState and turns key presses into controller intents.
package tui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/example/taskflow/client"
	"github.com/example/taskflow/domain/task"
)

// CopiedTTL is how long the "copied" marker stays after copying the user id.
const CopiedTTL = 2 * time.Second

// clearImage typed into the edit image field removes the task image.
const clearImage = "-"

// Controller is the part of client.Controller the TUI drives.
type Controller interface {
	State() client.ViewState
	Subscribe() (<-chan client.ViewState, func())
	UserID() string

	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string) error
	SignOut(ctx context.Context) error
	ResendConfirmation(ctx context.Context) error
	VerifyEmail(ctx context.Context, code string) error

	Refresh(ctx context.Context)
	SetFilter(ctx context.Context, f task.Filter)
	TypeSearch(s string)
	FlushSearch()
	ToggleTheme() client.Theme
	DismissNotice(key string)

	SetFormTitle(s string)
	SetFormDescription(s string)
	AttachImage(img *task.Image) error
	SubmitForm(ctx context.Context) (*task.Task, error)

	BeginEdit(id string) error
	UpdateEdit(id string, in client.EditInput) error
	CancelEdit(id string)
	SaveEdit(ctx context.Context, id string) error

	ToggleTask(ctx context.Context, id string) error
	RequestDelete(id string)
	CancelDelete(id string)
	ConfirmDelete(ctx context.Context, id string) error
}

var _ Controller = (*client.Controller)(nil)

type mode int

const (
	modeAuth mode = iota
	modeList
	modeSearch
	modeCompose
	modeEdit
	modeVerify
)

// field is a single-line text input.
type field struct {
	label  string
	value  string
	secret bool
}

func (f *field) edit(msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyRunes:
		f.value += string(msg.Runes)
	case tea.KeySpace:
		f.value += " "
	case tea.KeyBackspace:
		if r := []rune(f.value); len(r) > 0 {
			f.value = string(r[:len(r)-1])
		}
	case tea.KeyCtrlU:
		f.value = ""
	default:
		return false
	}
	return true
}

type stateMsg client.ViewState

type closedMsg struct{}

// resultMsg reports the outcome of an intent run off the update loop.
type resultMsg struct {
	op  string
	err error
}

type copiedExpiredMsg struct {
	gen int
}

type model struct {
	ctx         context.Context
	ctrl        Controller
	states      <-chan client.ViewState
	unsubscribe func()
	readFile    func(string) ([]byte, error)

	state   client.ViewState
	mode    mode
	cursor  int
	fields  []field
	focus   int
	editing string
	status  string

	copied    bool
	copiedGen int
	showHelp  bool
	width     int
}

func newModel(ctx context.Context, ctrl Controller) *model {
	states, unsubscribe := ctrl.Subscribe()
	m := &model{
		ctx:         ctx,
		ctrl:        ctrl,
		states:      states,
		unsubscribe: unsubscribe,
		readFile:    os.ReadFile,
		state:       ctrl.State(),
	}
	m.syncMode()
	return m
}

func (m *model) Init() tea.Cmd {
	return waitForState(m.states)
}

func waitForState(ch <-chan client.ViewState) tea.Cmd {
	return func() tea.Msg {
		vs, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return stateMsg(vs)
	}
}

// run executes an intent off the update loop.
func (m *model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{op: op, err: fn(ctx)}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case stateMsg:
		m.state = client.ViewState(msg)
		m.syncMode()
		m.clampCursor()
		return m, waitForState(m.states)
	case closedMsg:
		return m, tea.Quit
	case resultMsg:
		m.handleResult(msg)
		return m, nil
	case copiedExpiredMsg:
		if msg.gen == m.copiedGen {
			m.copied = false
		}
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modeAuth:
			return m.updateAuth(msg)
		case modeSearch:
			return m.updateSearch(msg)
		case modeCompose:
			return m.updateCompose(msg)
		case modeEdit:
			return m.updateEdit(msg)
		case modeVerify:
			return m.updateVerify(msg)
		default:
			return m.updateList(msg)
		}
	}
	return m, nil
}

// syncMode follows the session: signed-out views always show the auth form.
func (m *model) syncMode() {
	signedIn := m.state.User != nil
	switch {
	case !signedIn && (m.mode != modeAuth || m.fields == nil):
		m.enter(modeAuth)
	case signedIn && m.mode == modeAuth:
		m.enter(modeList)
	}
}

func (m *model) enter(md mode) {
	m.mode = md
	m.focus = 0
	switch md {
	case modeAuth:
		m.fields = []field{{label: "Email"}, {label: "Password", secret: true}}
	case modeSearch:
		m.fields = []field{{label: "Search", value: m.state.SearchDraft}}
	case modeCompose:
		m.fields = []field{
			{label: "Title", value: m.state.Form.Title},
			{label: "Description", value: m.state.Form.Description},
			{label: "Image file"},
		}
	case modeVerify:
		m.fields = []field{{label: "Confirmation code"}}
	default:
		m.fields = nil
	}
}

func (m *model) clampCursor() {
	if m.cursor >= len(m.state.Tasks) {
		m.cursor = len(m.state.Tasks) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *model) selected() (task.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.state.Tasks) {
		return task.Task{}, false
	}
	return m.state.Tasks[m.cursor], true
}

func (m *model) handleResult(msg resultMsg) {
	if msg.err != nil {
		m.status = msg.op + " failed: " + client.Message(msg.err)
		return
	}
	m.status = ""
	switch msg.op {
	case "create", "save", "verify":
		m.enter(modeList)
		m.editing = ""
	}
}

// moveFocus cycles through the current fields.
func (m *model) moveFocus(delta int) {
	if len(m.fields) == 0 {
		return
	}
	m.focus = (m.focus + delta + len(m.fields)) % len(m.fields)
}

func (m *model) updateAuth(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "tab", "down":
		m.moveFocus(1)
		return m, nil
	case "shift+tab", "up":
		m.moveFocus(-1)
		return m, nil
	case "enter", "ctrl+n":
		email := strings.TrimSpace(m.fields[0].value)
		password := m.fields[1].value
		if email == "" || password == "" {
			m.status = "Email and password are required"
			return m, nil
		}
		if msg.String() == "ctrl+n" {
			return m, m.run("sign-up", func(ctx context.Context) error {
				return m.ctrl.SignUp(ctx, email, password)
			})
		}
		return m, m.run("sign-in", func(ctx context.Context) error {
			return m.ctrl.SignIn(ctx, email, password)
		})
	}
	m.fields[m.focus].edit(msg)
	return m, nil
}

func (m *model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	t, hasTask := m.selected()
	if hasTask && m.state.DeletePending(t.ID) {
		switch msg.String() {
		case "y":
			id := t.ID
			return m, m.run("delete", func(ctx context.Context) error {
				return m.ctrl.ConfirmDelete(ctx, id)
			})
		case "n", "esc":
			m.ctrl.CancelDelete(t.ID)
			return m, nil
		}
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "?", "h":
		m.showHelp = !m.showHelp
	case "j", "down":
		if m.cursor < len(m.state.Tasks)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case " ", "x":
		if hasTask {
			id := t.ID
			return m, m.run("toggle", func(ctx context.Context) error {
				return m.ctrl.ToggleTask(ctx, id)
			})
		}
	case "d":
		if hasTask {
			m.ctrl.RequestDelete(t.ID)
		}
	case "e":
		if hasTask {
			if err := m.ctrl.BeginEdit(t.ID); err != nil {
				m.status = client.Message(err)
				return m, nil
			}
			m.beginEdit(t.ID)
		}
	case "n":
		m.enter(modeCompose)
	case "/":
		m.enter(modeSearch)
	case "1":
		m.ctrl.SetFilter(m.ctx, task.FilterAll)
	case "2":
		m.ctrl.SetFilter(m.ctx, task.FilterPending)
	case "3":
		m.ctrl.SetFilter(m.ctx, task.FilterCompleted)
	case "r":
		return m, m.run("refresh", func(ctx context.Context) error {
			m.ctrl.Refresh(ctx)
			return nil
		})
	case "t":
		m.ctrl.ToggleTheme()
	case "c":
		return m, m.copyUserID()
	case "R":
		if m.state.AccessRestricted {
			return m, m.run("resend", m.ctrl.ResendConfirmation)
		}
	case "v":
		if m.state.AccessRestricted {
			m.enter(modeVerify)
		}
	case "o":
		return m, m.run("sign-out", m.ctrl.SignOut)
	case "esc":
		m.status = ""
		for key := range m.state.Notices {
			m.ctrl.DismissNotice(key)
		}
	}
	return m, nil
}

// copyUserID shows the user id with a transient marker.
func (m *model) copyUserID() tea.Cmd {
	id := m.ctrl.UserID()
	if id == "" {
		return nil
	}
	m.copied = true
	m.copiedGen++
	gen := m.copiedGen
	return tea.Tick(CopiedTTL, func(time.Time) tea.Msg {
		return copiedExpiredMsg{gen: gen}
	})
}

func (m *model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.ctrl.FlushSearch()
		m.enter(modeList)
		return m, nil
	case "esc":
		m.ctrl.TypeSearch("")
		m.ctrl.FlushSearch()
		m.enter(modeList)
		return m, nil
	}
	if m.fields[0].edit(msg) {
		m.ctrl.TypeSearch(m.fields[0].value)
	}
	return m, nil
}

func (m *model) readImage(path string) (*task.Image, error) {
	data, err := m.readFile(path)
	if err != nil {
		return nil, err
	}
	return &task.Image{Name: filepath.Base(path), Data: data}, nil
}

func (m *model) updateCompose(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.enter(modeList)
		return m, nil
	case "tab", "down":
		m.moveFocus(1)
		return m, nil
	case "shift+tab", "up":
		m.moveFocus(-1)
		return m, nil
	case "enter":
		var img *task.Image
		if path := strings.TrimSpace(m.fields[2].value); path != "" {
			var err error
			if img, err = m.readImage(path); err != nil {
				m.status = "Cannot read image: " + err.Error()
				return m, nil
			}
		}
		if err := m.ctrl.AttachImage(img); err != nil {
			m.status = client.Message(err)
			return m, nil
		}
		return m, m.run("create", func(ctx context.Context) error {
			_, err := m.ctrl.SubmitForm(ctx)
			return err
		})
	}
	if !m.fields[m.focus].edit(msg) {
		return m, nil
	}
	switch m.focus {
	case 0:
		m.ctrl.SetFormTitle(m.fields[0].value)
	case 1:
		m.ctrl.SetFormDescription(m.fields[1].value)
	}
	return m, nil
}

func (m *model) beginEdit(id string) {
	m.mode = modeEdit
	m.editing = id
	m.focus = 0
	draft := m.ctrl.State().Editing[id]
	m.fields = []field{
		{label: "Title", value: draft.Title},
		{label: "Description", value: draft.Description},
		{label: "New image file (" + clearImage + " to remove)"},
	}
}

func (m *model) editInput() (client.EditInput, error) {
	in := client.EditInput{Title: m.fields[0].value, Description: m.fields[1].value, Image: task.KeepImage()}
	switch path := strings.TrimSpace(m.fields[2].value); path {
	case "":
	case clearImage:
		in.Image = task.ClearImage()
	default:
		img, err := m.readImage(path)
		if err != nil {
			return in, err
		}
		in.Image = task.ReplaceImage(*img)
	}
	return in, nil
}

func (m *model) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.editing
	switch msg.String() {
	case "esc":
		m.ctrl.CancelEdit(id)
		m.editing = ""
		m.enter(modeList)
		return m, nil
	case "tab", "down":
		m.moveFocus(1)
		return m, nil
	case "shift+tab", "up":
		m.moveFocus(-1)
		return m, nil
	case "enter":
		in, err := m.editInput()
		if err != nil {
			m.status = "Cannot read image: " + err.Error()
			return m, nil
		}
		if err := m.ctrl.UpdateEdit(id, in); err != nil {
			m.status = client.Message(err)
			return m, nil
		}
		return m, m.run("save", func(ctx context.Context) error {
			return m.ctrl.SaveEdit(ctx, id)
		})
	}
	m.fields[m.focus].edit(msg)
	return m, nil
}

func (m *model) updateVerify(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.enter(modeList)
		return m, nil
	case "enter":
		code := strings.TrimSpace(m.fields[0].value)
		if code == "" {
			return m, nil
		}
		return m, m.run("verify", func(ctx context.Context) error {
			return m.ctrl.VerifyEmail(ctx, code)
		})
	}
	m.fields[0].edit(msg)
	return m, nil
}
