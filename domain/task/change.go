package task

// Patch is a partial task update. Nil fields are left unchanged; the Clear
// flags set the column to absent.
type Patch struct {
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	ClearDescription bool    `json:"clear_description,omitempty"`
	ImageURL         *string `json:"image_url,omitempty"`
	ClearImage       bool    `json:"clear_image,omitempty"`
	IsCompleted      *bool   `json:"is_completed,omitempty"`
}

// CompletionPatch flips a task to the given completion state.
func CompletionPatch(completed bool) Patch {
	return Patch{IsCompleted: &completed}
}

// Columns returns the patch as a column map. Cleared columns map to nil.
func (p Patch) Columns() map[string]any {
	cols := make(map[string]any)
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	switch {
	case p.ClearDescription:
		cols["description"] = nil
	case p.Description != nil:
		cols["description"] = *p.Description
	}
	switch {
	case p.ClearImage:
		cols["image_url"] = nil
	case p.ImageURL != nil:
		cols["image_url"] = *p.ImageURL
	}
	if p.IsCompleted != nil {
		cols["is_completed"] = *p.IsCompleted
	}
	return cols
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Columns()) == 0
}

// Apply returns a copy of t with the patch applied.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	switch {
	case p.ClearDescription:
		t.Description = nil
	case p.Description != nil:
		d := *p.Description
		t.Description = &d
	}
	switch {
	case p.ClearImage:
		t.ImageURL = nil
	case p.ImageURL != nil:
		u := *p.ImageURL
		t.ImageURL = &u
	}
	if p.IsCompleted != nil {
		t.IsCompleted = *p.IsCompleted
	}
	return t
}

// ChangeType is the kind of row change reported by the change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent notifies that the task collection changed. Only Type is
// guaranteed; New and OldID are filled when the feed carries them.
type ChangeEvent struct {
	Type  ChangeType `json:"type"`
	New   *Task      `json:"new,omitempty"`
	OldID string     `json:"old_id,omitempty"`
}
