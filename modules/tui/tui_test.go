package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taskflow/client"
	"github.com/example/taskflow/domain/task"
)

// fakeController records intents and serves a fixed view state.
type fakeController struct {
	mu    sync.Mutex
	calls []string
	state client.ViewState
	ch    chan client.ViewState
	edit  client.EditInput
	image *task.Image
	err   error
}

var _ Controller = (*fakeController)(nil)

func newFakeController(vs client.ViewState) *fakeController {
	return &fakeController{state: vs, ch: make(chan client.ViewState, 4)}
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) State() client.ViewState { return f.state }
func (f *fakeController) Subscribe() (<-chan client.ViewState, func()) {
	return f.ch, func() { f.record("unsubscribe") }
}
func (f *fakeController) UserID() string {
	if f.state.User == nil {
		return ""
	}
	return f.state.User.ID
}

func (f *fakeController) SignIn(_ context.Context, email, password string) error {
	f.record("sign-in " + email + " " + password)
	return f.err
}
func (f *fakeController) SignUp(_ context.Context, email, password string) error {
	f.record("sign-up " + email + " " + password)
	return f.err
}
func (f *fakeController) SignOut(context.Context) error {
	f.record("sign-out")
	return f.err
}
func (f *fakeController) ResendConfirmation(context.Context) error {
	f.record("resend")
	return f.err
}
func (f *fakeController) VerifyEmail(_ context.Context, code string) error {
	f.record("verify " + code)
	return f.err
}
func (f *fakeController) Refresh(context.Context) { f.record("refresh") }
func (f *fakeController) SetFilter(_ context.Context, flt task.Filter) {
	f.record("filter " + string(flt))
}
func (f *fakeController) TypeSearch(s string) { f.record("type " + s) }
func (f *fakeController) FlushSearch()        { f.record("flush") }
func (f *fakeController) ToggleTheme() client.Theme {
	f.record("theme")
	return client.ThemeDark
}
func (f *fakeController) DismissNotice(key string)    { f.record("dismiss " + key) }
func (f *fakeController) SetFormTitle(s string)       { f.record("title " + s) }
func (f *fakeController) SetFormDescription(s string) { f.record("description " + s) }
func (f *fakeController) AttachImage(img *task.Image) error {
	f.record("attach")
	f.image = img
	return nil
}
func (f *fakeController) SubmitForm(context.Context) (*task.Task, error) {
	f.record("submit")
	if f.err != nil {
		return nil, f.err
	}
	return &task.Task{ID: "t-new"}, nil
}
func (f *fakeController) BeginEdit(id string) error {
	f.record("begin-edit " + id)
	f.state.Editing = map[string]client.EditState{id: {Title: "Buy milk", ImageAction: "keep"}}
	return nil
}
func (f *fakeController) UpdateEdit(id string, in client.EditInput) error {
	f.record("update-edit " + id)
	f.edit = in
	return nil
}
func (f *fakeController) CancelEdit(id string) { f.record("cancel-edit " + id) }
func (f *fakeController) SaveEdit(_ context.Context, id string) error {
	f.record("save-edit " + id)
	return f.err
}
func (f *fakeController) ToggleTask(_ context.Context, id string) error {
	f.record("toggle " + id)
	return f.err
}
func (f *fakeController) RequestDelete(id string) { f.record("request-delete " + id) }
func (f *fakeController) CancelDelete(id string)  { f.record("cancel-delete " + id) }
func (f *fakeController) ConfirmDelete(_ context.Context, id string) error {
	f.record("confirm-delete " + id)
	return f.err
}

func signedInState() client.ViewState {
	return client.ViewState{
		Configured: true,
		User:       &task.User{ID: "user-1", Email: "ana@example.com", EmailConfirmed: true},
		Theme:      client.ThemeLight,
		Filter:     task.FilterAll,
		Tasks: []task.Task{
			{ID: "t1", Title: "Buy milk"},
			{ID: "t2", Title: "Walk dog", IsCompleted: true, Description: task.OptionalText("twice")},
		},
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case "ctrl+n":
		return tea.KeyMsg{Type: tea.KeyCtrlN}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds keys to m and runs any returned intent command.
func press(t *testing.T, m *model, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_, cmd := m.Update(key(k))
		runCmd(m, cmd)
	}
}

func typeText(t *testing.T, m *model, text string) {
	t.Helper()
	for _, r := range text {
		press(t, m, string(r))
	}
}

// runCmd executes intent commands synchronously; other commands are dropped.
func runCmd(m *model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	if msg, ok := cmd().(resultMsg); ok {
		m.Update(msg)
	}
}

func TestModel_SignedOutShowsAuth(t *testing.T) {
	ctrl := newFakeController(client.ViewState{Configured: true, Theme: client.ThemeLight})
	m := newModel(context.Background(), ctrl)

	assert.Equal(t, modeAuth, m.mode)
	typeText(t, m, "ana@example.com")
	press(t, m, "tab")
	typeText(t, m, "secret1")
	assert.Contains(t, m.View(), "Password: *******")

	press(t, m, "enter")
	assert.Equal(t, []string{"sign-in ana@example.com secret1"}, ctrl.called())

	press(t, m, "ctrl+n")
	assert.Contains(t, ctrl.called(), "sign-up ana@example.com secret1")
}

func TestModel_SignedOutStartHasAuthFields(t *testing.T) {
	ctrl := newFakeController(client.ViewState{Configured: true})
	m := newModel(context.Background(), ctrl)

	require.Len(t, m.fields, 2)
	assert.NotPanics(t, func() { press(t, m, "a") })
	assert.Equal(t, "a", m.fields[0].value)
	assert.Contains(t, m.View(), "> Email: a")
}

func TestModel_AuthRequiresBothFields(t *testing.T) {
	ctrl := newFakeController(client.ViewState{Configured: true})
	m := newModel(context.Background(), ctrl)

	typeText(t, m, "ana@example.com")
	press(t, m, "enter")
	assert.Empty(t, ctrl.called())
	assert.Equal(t, "Email and password are required", m.status)
}

func TestModel_FailedIntentShowsStatus(t *testing.T) {
	ctrl := newFakeController(client.ViewState{Configured: true})
	ctrl.err = errors.New("boom")
	m := newModel(context.Background(), ctrl)

	typeText(t, m, "a@b.c")
	press(t, m, "tab")
	typeText(t, m, "pw")
	press(t, m, "enter")
	assert.True(t, strings.HasPrefix(m.status, "sign-in failed: "))
}

func TestModel_StateUpdatesSwitchMode(t *testing.T) {
	ctrl := newFakeController(client.ViewState{Configured: true})
	m := newModel(context.Background(), ctrl)
	require.Equal(t, modeAuth, m.mode)

	_, cmd := m.Update(stateMsg(signedInState()))
	assert.NotNil(t, cmd)
	assert.Equal(t, modeList, m.mode)
	assert.Contains(t, m.View(), "Buy milk")

	m.Update(stateMsg(client.ViewState{Configured: true}))
	assert.Equal(t, modeAuth, m.mode)
}

func TestModel_WaitForStateQuitsWhenClosed(t *testing.T) {
	ch := make(chan client.ViewState)
	close(ch)
	msg := waitForState(ch)()
	assert.Equal(t, closedMsg{}, msg)
}

func TestModel_ListNavigationAndToggle(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)

	press(t, m, " ")
	press(t, m, "j", "x")
	press(t, m, "j")
	assert.Equal(t, 1, m.cursor)
	press(t, m, "k", "k")
	assert.Equal(t, 0, m.cursor)

	assert.Equal(t, []string{"toggle t1", "toggle t2"}, ctrl.called())
}

func TestModel_FiltersThemeRefresh(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)

	press(t, m, "2", "3", "1", "t", "r")
	assert.Equal(t, []string{
		"filter pending",
		"filter completed",
		"filter all",
		"theme",
		"refresh",
	}, ctrl.called())
}

func TestModel_DeleteConfirmation(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)

	press(t, m, "d")
	assert.Equal(t, []string{"request-delete t1"}, ctrl.called())

	vs := signedInState()
	vs.PendingDeletes = []string{"t1"}
	m.Update(stateMsg(vs))
	assert.Contains(t, m.View(), "Delete this task? y/n")

	press(t, m, "n")
	press(t, m, "y")
	assert.Equal(t, []string{"request-delete t1", "cancel-delete t1", "confirm-delete t1"}, ctrl.called())
}

func TestModel_Search(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)

	press(t, m, "/")
	require.Equal(t, modeSearch, m.mode)
	typeText(t, m, "mi")
	press(t, m, "backspace", "enter")
	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, []string{"type m", "type mi", "type m", "flush"}, ctrl.called())

	press(t, m, "/", "esc")
	assert.Equal(t, []string{"type m", "type mi", "type m", "flush", "type ", "flush"}, ctrl.called())
}

func TestModel_ComposeWithImage(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)
	m.readFile = func(path string) ([]byte, error) {
		if path == "/tmp/cat.png" {
			return []byte("png"), nil
		}
		return nil, errors.New("no such file")
	}

	press(t, m, "n")
	require.Equal(t, modeCompose, m.mode)
	typeText(t, m, "Hi")
	press(t, m, "tab")
	typeText(t, m, "x")
	press(t, m, "tab")
	typeText(t, m, "/tmp/nope.png")
	press(t, m, "enter")
	assert.Contains(t, m.status, "Cannot read image")
	assert.Equal(t, modeCompose, m.mode)

	m.fields[2].value = "/tmp/cat.png"
	press(t, m, "enter")
	assert.Equal(t, modeList, m.mode)
	require.NotNil(t, ctrl.image)
	assert.Equal(t, "cat.png", ctrl.image.Name)
	assert.Equal(t, []string{"title H", "title Hi", "description x", "attach", "submit"}, ctrl.called())
}

func TestModel_EditImageActions(t *testing.T) {
	tests := []struct {
		name  string
		image string
		want  task.ImageAction
	}{
		{name: "keep", image: "", want: task.KeepImage().Action()},
		{name: "clear", image: clearImage, want: task.ClearImage().Action()},
		{name: "replace", image: "dog.png", want: task.ReplaceImage(task.Image{}).Action()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController(signedInState())
			m := newModel(context.Background(), ctrl)
			m.readFile = func(string) ([]byte, error) { return []byte("img"), nil }

			press(t, m, "e")
			require.Equal(t, modeEdit, m.mode)
			assert.Equal(t, "Buy milk", m.fields[0].value)
			typeText(t, m, "!")
			m.fields[2].value = tt.image
			press(t, m, "enter")

			assert.Equal(t, "Buy milk!", ctrl.edit.Title)
			assert.Equal(t, tt.want, ctrl.edit.Image.Action())
			assert.Equal(t, []string{"begin-edit t1", "update-edit t1", "save-edit t1"}, ctrl.called())
			assert.Equal(t, modeList, m.mode)
		})
	}
}

func TestModel_EditCancel(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)

	press(t, m, "e", "esc")
	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, []string{"begin-edit t1", "cancel-edit t1"}, ctrl.called())
}

func TestModel_CopyUserID(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)

	_, cmd := m.Update(key("c"))
	require.NotNil(t, cmd)
	assert.True(t, m.copied)
	assert.Contains(t, m.View(), "[user id user-1 copied]")

	m.Update(key("c"))
	m.Update(copiedExpiredMsg{gen: 1})
	assert.True(t, m.copied, "a stale expiry must not hide a newer marker")

	m.Update(copiedExpiredMsg{gen: 2})
	assert.False(t, m.copied)
}

func TestModel_RestrictedAccount(t *testing.T) {
	vs := signedInState()
	vs.User.EmailConfirmed = false
	vs.AccessRestricted = true
	ctrl := newFakeController(vs)
	m := newModel(context.Background(), ctrl)

	assert.Contains(t, m.View(), "Email not confirmed")
	press(t, m, "R")
	press(t, m, "v")
	require.Equal(t, modeVerify, m.mode)
	typeText(t, m, "123456")
	press(t, m, "enter")

	assert.Equal(t, []string{"resend", "verify 123456"}, ctrl.called())
	assert.Equal(t, modeList, m.mode)
}

func TestModel_SignOutAndQuit(t *testing.T) {
	ctrl := newFakeController(signedInState())
	m := newModel(context.Background(), ctrl)

	press(t, m, "o")
	assert.Equal(t, []string{"sign-out"}, ctrl.called())

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_NotConfigured(t *testing.T) {
	ctrl := newFakeController(client.ViewState{})
	m := newModel(context.Background(), ctrl)

	assert.Contains(t, m.View(), "Configuration required")
}

func TestIsTTY(t *testing.T) {
	var b strings.Builder
	assert.False(t, IsTTY(&b))
}
