package editor

import (
	"github.com/OpenCoralTools/oct-registry/internal/gateway"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// SchemaState tracks the schema load of a session.
type SchemaState string

const (
	SchemaIdle    SchemaState = "idle"
	SchemaLoading SchemaState = "loading"
	SchemaReady   SchemaState = "ready"
	SchemaFailed  SchemaState = "failed"
)

// DataState tracks the registry data load of a session.
type DataState string

const (
	DataIdle    DataState = "idle"
	DataLoading DataState = "loading"
	DataReady   DataState = "ready"
	DataFailed  DataState = "failed"
)

// SaveState tracks the most recent submission.
type SaveState string

const (
	SaveIdle       SaveState = "idle"
	SaveValidating SaveState = "validating"
	SaveRejected   SaveState = "rejected"
	SavePersisting SaveState = "persisting"
	SaveCommitted  SaveState = "committed"
	SaveProposed   SaveState = "proposed"
	SaveConflict   SaveState = "conflict"
	SaveFailed     SaveState = "failed"
)

// Terminal reports whether s ends a submission.
func (s SaveState) Terminal() bool {
	switch s {
	case SaveRejected, SaveCommitted, SaveProposed, SaveConflict, SaveFailed:
		return true
	default:
		return false
	}
}

// DataSource says where the working copy came from.
type DataSource string

const (
	SourceNone    DataSource = ""
	SourceRemote  DataSource = "remote"
	SourceBundled DataSource = "bundled"
)

// SaveOutcome is the observable result of one submission. Candidate is the
// record as submitted so form input survives every failure.
type SaveOutcome struct {
	State       SaveState
	IsEdit      bool
	Candidate   registry.Record
	Record      registry.Record
	Revision    string
	Message     string
	PullRequest *gateway.PullRequest
	Err         error
}

// Retryable reports whether reloading and resubmitting may succeed.
func (o SaveOutcome) Retryable() bool { return registry.IsRetryable(o.Err) }

// Status is a point-in-time view of the session.
type Status struct {
	Registry      registry.Name `json:"registry"`
	Schema        SchemaState   `json:"schema"`
	Data          DataState     `json:"data"`
	Save          SaveState     `json:"save"`
	SchemaVersion string        `json:"schemaVersion,omitempty"`
	Revision      string        `json:"revision,omitempty"`
	Source        DataSource    `json:"source,omitempty"`
	ReadOnly      bool          `json:"readOnly"`
	CanEdit       bool          `json:"canEdit"`
	Records       int           `json:"records"`
	SchemaError   string        `json:"schemaError,omitempty"`
	DataError     string        `json:"dataError,omitempty"`
	Related       []string      `json:"related,omitempty"`
}
