package task

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTitle(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "plain", input: "Buy milk", want: "Buy milk"},
		{name: "trimmed", input: "  Buy milk \t", want: "Buy milk"},
		{name: "empty", input: "", wantErr: ErrEmptyTitle},
		{name: "whitespace only", input: "   \n", wantErr: ErrEmptyTitle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateTitle(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateTitle() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		input   string
		want    Filter
		wantErr bool
	}{
		{input: "", want: FilterAll},
		{input: "all", want: FilterAll},
		{input: "Pending", want: FilterPending},
		{input: "completed", want: FilterCompleted},
		{input: "done", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFilter(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFilter(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidFilter) {
				t.Errorf("ParseFilter(%q) error = %v, want ErrInvalidFilter", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseFilter(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestQuery_Matches(t *testing.T) {
	desc := "Remember the OAT milk"
	pending := Task{ID: "1", Title: "Groceries", Description: &desc}
	done := Task{ID: "2", Title: "File taxes", IsCompleted: true}

	tests := []struct {
		name  string
		query Query
		task  Task
		want  bool
	}{
		{name: "all no search", query: Query{Filter: FilterAll}, task: done, want: true},
		{name: "pending excludes completed", query: Query{Filter: FilterPending}, task: done, want: false},
		{name: "completed includes completed", query: Query{Filter: FilterCompleted}, task: done, want: true},
		{name: "title case-insensitive", query: Query{Filter: FilterAll, Search: "GROC"}, task: pending, want: true},
		{name: "description match", query: Query{Filter: FilterAll, Search: "oat"}, task: pending, want: true},
		{name: "nil description no match", query: Query{Filter: FilterAll, Search: "oat"}, task: done, want: false},
		{name: "filter and search combined", query: Query{Filter: FilterCompleted, Search: "groc"}, task: pending, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Matches(tt.task); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tasks := []Task{
		{ID: "old", CreatedAt: base},
		{ID: "new", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "mid", CreatedAt: base.Add(time.Hour)},
	}

	SortNewestFirst(tasks)

	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Errorf("tasks[%d].ID = %s, want %s", i, tasks[i].ID, id)
		}
	}
}

func TestPatch_Columns(t *testing.T) {
	title := "New title"
	url := "https://example.com/a.png"

	cols := Patch{Title: &title, ClearDescription: true, ImageURL: &url}.Columns()
	if len(cols) != 3 {
		t.Fatalf("len(Columns()) = %d, want 3", len(cols))
	}
	if cols["title"] != title {
		t.Errorf("title = %v, want %v", cols["title"], title)
	}
	if v, ok := cols["description"]; !ok || v != nil {
		t.Errorf("description = %v (present %v), want nil present", v, ok)
	}

	if !(Patch{}).IsEmpty() {
		t.Error("empty Patch.IsEmpty() = false, want true")
	}
	if CompletionPatch(false).IsEmpty() {
		t.Error("CompletionPatch(false).IsEmpty() = true, want false")
	}
}

func TestPatch_Apply(t *testing.T) {
	desc := "old"
	url := "https://example.com/old.png"
	original := Task{ID: "1", Title: "Old", Description: &desc, ImageURL: &url}

	updated := Patch{ClearImage: true, IsCompleted: new(bool)}.Apply(original)
	if updated.ImageURL != nil {
		t.Errorf("ImageURL = %v, want nil", *updated.ImageURL)
	}
	if Text(updated.Description) != "old" {
		t.Errorf("Description = %q, want %q", Text(updated.Description), "old")
	}
	if original.ImageURL == nil {
		t.Error("Apply() mutated the original task")
	}
}

func TestImageChange(t *testing.T) {
	var zero ImageChange
	if zero.Action() != ImageKeep {
		t.Errorf("zero Action() = %v, want keep", zero.Action())
	}
	if _, ok := KeepImage().Image(); ok {
		t.Error("KeepImage().Image() ok = true, want false")
	}
	if ClearImage().Action() != ImageClear {
		t.Errorf("ClearImage().Action() = %v, want clear", ClearImage().Action())
	}

	img := Image{Name: "cat.png", Data: []byte{1, 2, 3}}
	got, ok := ReplaceImage(img).Image()
	if !ok || got.Name != "cat.png" || got.Size() != 3 {
		t.Errorf("ReplaceImage().Image() = %+v, %v", got, ok)
	}
}

func TestOptionalText(t *testing.T) {
	if OptionalText("") != nil {
		t.Error("OptionalText(\"\") should be nil")
	}
	if got := Text(OptionalText("x")); got != "x" {
		t.Errorf("Text(OptionalText(x)) = %q", got)
	}
}
