package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docmgr/docstore/lock"
	"github.com/docmgr/docstore/model"
	"github.com/docmgr/docstore/search"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command's output.
type CLIResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// Table is output that renders as rows in text mode.
type Table interface {
	Header() []string
	Rows() [][]string
}

// Success writes data in the configured format. In text mode a [Table] is
// written with aligned columns and anything else with fmt.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}

	table, ok := data.(Table)
	if !ok {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}

	w := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(table.Header(), "\t"))

	for _, row := range table.Rows() {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	return w.Flush()
}

// Message is a plain confirmation.
type Message struct {
	Message string `json:"message"`
}

func (m Message) String() string {
	return m.Message
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

// DocumentView is the output form of a document.
type DocumentView struct {
	ID               string `json:"documentId"`
	Path             string `json:"path,omitempty"`
	ContentType      string `json:"contentType,omitempty"`
	ContentLength    int64  `json:"contentLength,omitempty"`
	UserID           string `json:"userId,omitempty"`
	InsertedDate     string `json:"insertedDate,omitempty"`
	LastModifiedDate string `json:"lastModifiedDate,omitempty"`
}

func newDocumentView(d *model.Document) DocumentView {
	return DocumentView{
		ID:               d.ID,
		Path:             d.Path,
		ContentType:      d.ContentType,
		ContentLength:    d.ContentLength,
		UserID:           d.UserID,
		InsertedDate:     formatTime(d.InsertedDate),
		LastModifiedDate: formatTime(d.LastModifiedDate),
	}
}

// Header implements [Table].
func (v DocumentView) Header() []string {
	return []string{"DOCUMENT", "PATH", "CONTENT TYPE", "INSERTED", "MODIFIED"}
}

// Rows implements [Table].
func (v DocumentView) Rows() [][]string {
	return [][]string{{v.ID, v.Path, v.ContentType, v.InsertedDate, v.LastModifiedDate}}
}

// TagView is the output form of a tag.
type TagView struct {
	Key          string   `json:"key"`
	Value        string   `json:"value,omitempty"`
	Values       []string `json:"values,omitempty"`
	Type         string   `json:"type,omitempty"`
	UserID       string   `json:"userId,omitempty"`
	InsertedDate string   `json:"insertedDate,omitempty"`
}

func newTagView(t *model.Tag) TagView {
	return TagView{
		Key:          t.Key,
		Value:        t.Value,
		Values:       t.Values,
		Type:         string(t.Type),
		UserID:       t.UserID,
		InsertedDate: formatTime(t.InsertedDate),
	}
}

// TagsView is one page of tags.
type TagsView struct {
	Tags   []TagView `json:"tags"`
	Cursor string    `json:"cursor,omitempty"`
}

// Header implements [Table].
func (v TagsView) Header() []string {
	return []string{"KEY", "VALUES", "TYPE", "INSERTED"}
}

// Rows implements [Table].
func (v TagsView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Tags))
	for _, t := range v.Tags {
		rows = append(rows, []string{t.Key, joinValues(t.Value, t.Values), t.Type, t.InsertedDate})
	}

	return rows
}

func joinValues(value string, values []string) string {
	if len(values) > 0 {
		return strings.Join(values, ",")
	}

	return value
}

// SearchView is one page of search results.
type SearchView struct {
	Documents []SearchResultView `json:"documents"`
	Cursor    string             `json:"cursor,omitempty"`
}

// SearchResultView is one matching document.
type SearchResultView struct {
	DocumentView
	MatchedTag TagView `json:"matchedTag"`
}

func newSearchView(r *search.Results) SearchView {
	v := SearchView{Documents: make([]SearchResultView, 0, len(r.Documents)), Cursor: r.Cursor}

	for _, d := range r.Documents {
		v.Documents = append(v.Documents, SearchResultView{
			DocumentView: newDocumentView(d.Document),
			MatchedTag: TagView{
				Key:    d.MatchedTag.Key,
				Value:  d.MatchedTag.Value,
				Values: d.MatchedTag.Values,
			},
		})
	}

	return v
}

// Header implements [Table].
func (v SearchView) Header() []string {
	return []string{"DOCUMENT", "PATH", "TAG", "VALUES"}
}

// Rows implements [Table].
func (v SearchView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Documents))
	for _, d := range v.Documents {
		rows = append(rows, []string{d.ID, d.Path, d.MatchedTag.Key, joinValues(d.MatchedTag.Value, d.MatchedTag.Values)})
	}

	return rows
}

// ActionView is the output form of an action.
type ActionView struct {
	DocumentID    string            `json:"documentId"`
	Index         int               `json:"index"`
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	Parameters    map[string]string `json:"parameters,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Message       string            `json:"message,omitempty"`
	UserID        string            `json:"userId,omitempty"`
	InsertedDate  string            `json:"insertedDate,omitempty"`
	QueuedDate    string            `json:"queuedDate,omitempty"`
	CompletedDate string            `json:"completedDate,omitempty"`
}

func newActionView(a *model.Action) ActionView {
	return ActionView{
		DocumentID:    a.DocumentID,
		Index:         a.Index,
		Type:          string(a.Type),
		Status:        string(a.Status),
		Parameters:    a.Parameters,
		Metadata:      a.Metadata,
		Message:       a.Message,
		UserID:        a.UserID,
		InsertedDate:  formatTime(a.InsertedDate),
		QueuedDate:    formatTime(a.QueuedDate),
		CompletedDate: formatTime(a.CompletedDate),
	}
}

// ActionsView is a list or page of actions.
type ActionsView struct {
	Actions []ActionView `json:"actions"`
	Cursor  string       `json:"cursor,omitempty"`
}

func newActionsView(list []*model.Action, cursor string) ActionsView {
	v := ActionsView{Actions: make([]ActionView, 0, len(list)), Cursor: cursor}
	for _, a := range list {
		v.Actions = append(v.Actions, newActionView(a))
	}

	return v
}

// Header implements [Table].
func (v ActionsView) Header() []string {
	return []string{"DOCUMENT", "INDEX", "TYPE", "STATUS", "INSERTED", "MESSAGE"}
}

// Rows implements [Table].
func (v ActionsView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Actions))
	for _, a := range v.Actions {
		rows = append(rows, []string{a.DocumentID, fmt.Sprint(a.Index), a.Type, a.Status, a.InsertedDate, a.Message})
	}

	return rows
}

// LockView is the output form of a lock record.
type LockView struct {
	PK         string `json:"pk"`
	SK         string `json:"sk"`
	Owner      string `json:"owner"`
	AcquiredAt string `json:"acquiredAt"`
	ExpiresAt  string `json:"expiresAt"`
	Expired    bool   `json:"expired"`
}

func newLockView(l *lock.Lock, now time.Time) LockView {
	return LockView{
		PK:         l.Key.PK,
		SK:         l.Key.SK,
		Owner:      l.Owner,
		AcquiredAt: formatTime(l.AcquiredAt),
		ExpiresAt:  formatTime(l.ExpiresAt),
		Expired:    l.Expired(now),
	}
}

// Header implements [Table].
func (v LockView) Header() []string {
	return []string{"PK", "SK", "OWNER", "ACQUIRED", "EXPIRES", "EXPIRED"}
}

// Rows implements [Table].
func (v LockView) Rows() [][]string {
	return [][]string{{v.PK, v.SK, v.Owner, v.AcquiredAt, v.ExpiresAt, fmt.Sprint(v.Expired)}}
}
