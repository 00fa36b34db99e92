package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

const tasksPath = "/rest/v1/" + tasksTable

var returnRepresentation = map[string]string{"Prefer": "return=representation"}

// ilikeTerm quotes search as a PostgREST ilike operand matching it as a
// literal substring.
func ilikeTerm(search string) string {
	var b strings.Builder
	b.WriteString(`"*`)
	for _, r := range search {
		switch r {
		case '%', '_':
			b.WriteString(`\\`)
			b.WriteRune(r)
		case '\\':
			b.WriteString(`\\\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(`*"`)
	return b.String()
}

// listQuery builds the PostgREST query for q, newest first.
func listQuery(q task.Query) url.Values {
	v := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}
	if completed, restrict := q.Filter.Completed(); restrict {
		v.Set("is_completed", "eq."+strconv.FormatBool(completed))
	}
	if q.Search != "" {
		term := ilikeTerm(q.Search)
		v.Set("or", fmt.Sprintf("(title.ilike.%s,description.ilike.%s)", term, term))
	}
	return v
}

func byID(id string) url.Values {
	return url.Values{"id": {"eq." + id}}
}

// userID returns the signed-in user's id, falling back to the subject of
// the access token for restored sessions.
func (g *Gateway) userID() (string, error) {
	g.mu.Lock()
	s := g.session
	g.mu.Unlock()
	if s == nil {
		return "", gateway.ErrUnauthenticated
	}
	if s.UserID != "" {
		return s.UserID, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return "", fmt.Errorf("%w: unreadable access token", gateway.ErrUnauthenticated)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: access token without subject", gateway.ErrUnauthenticated)
	}
	return sub, nil
}

func (g *Gateway) ListTasks(ctx context.Context, q task.Query) ([]task.Task, error) {
	tasks := []task.Task{}
	err := g.sendAuthed(ctx, request{
		method: fiber.MethodGet,
		path:   tasksPath,
		query:  listQuery(q),
	}, &tasks)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return tasks, nil
}

type insertRow struct {
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	ImageURL    *string `json:"image_url"`
}

func (g *Gateway) CreateTask(ctx context.Context, nt task.NewTask) (*task.Task, error) {
	title, err := task.ValidateTitle(nt.Title)
	if err != nil {
		return nil, err
	}
	userID, err := g.userID()
	if err != nil {
		return nil, err
	}

	var rows []task.Task
	err = g.sendAuthed(ctx, request{
		method:  fiber.MethodPost,
		path:    tasksPath,
		headers: returnRepresentation,
		json: []insertRow{{
			UserID:      userID,
			Title:       title,
			Description: nt.Description,
			ImageURL:    nt.ImageURL,
		}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("supabase: insert into %s returned no row", tasksTable)
	}
	return &rows[0], nil
}

// UpdateTask patches the row; rows hidden by row-level security come back as
// an empty representation and report false.
func (g *Gateway) UpdateTask(ctx context.Context, id string, p task.Patch) (bool, error) {
	if p.Title != nil {
		title, err := task.ValidateTitle(*p.Title)
		if err != nil {
			return false, err
		}
		p.Title = &title
	}
	cols := p.Columns()
	if len(cols) == 0 {
		return true, nil
	}

	var rows []task.Task
	err := g.sendAuthed(ctx, request{
		method:  fiber.MethodPatch,
		path:    tasksPath,
		query:   byID(id),
		headers: returnRepresentation,
		json:    cols,
	}, &rows)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (g *Gateway) DeleteTask(ctx context.Context, id string) (int, error) {
	var rows []task.Task
	err := g.sendAuthed(ctx, request{
		method:  fiber.MethodDelete,
		path:    tasksPath,
		query:   byID(id),
		headers: returnRepresentation,
	}, &rows)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
