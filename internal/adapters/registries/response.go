package registries

import (
	"errors"

	"github.com/OpenCoralTools/oct-registry/internal/editor"
	"github.com/OpenCoralTools/oct-registry/internal/gateway"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

type saveResponse struct {
	State       editor.SaveState     `json:"state"`
	Edit        bool                 `json:"edit"`
	Candidate   registry.Record      `json:"candidate"`
	Record      *registry.Record     `json:"record,omitempty"`
	Revision    string               `json:"revision,omitempty"`
	Message     string               `json:"message,omitempty"`
	PullRequest *gateway.PullRequest `json:"pullRequest,omitempty"`
	Error       string               `json:"error,omitempty"`
	Retryable   bool                 `json:"retryable,omitempty"`
}

type errorResponse struct {
	Error     string                `json:"error"`
	Retryable bool                  `json:"retryable"`
	Fields    []registry.FieldError `json:"fields,omitempty"`
	Save      *saveResponse         `json:"save,omitempty"`
}

func newSaveResponse(out editor.SaveOutcome) saveResponse {
	resp := saveResponse{
		State:       out.State,
		Edit:        out.IsEdit,
		Candidate:   out.Candidate,
		Revision:    out.Revision,
		Message:     out.Message,
		PullRequest: out.PullRequest,
		Retryable:   out.Retryable(),
	}
	if out.Record.Len() > 0 {
		rec := out.Record
		resp.Record = &rec
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

// saveOrNil omits the outcome for errors raised before a submission started.
func saveOrNil(out editor.SaveOutcome) *saveResponse {
	if out.State == "" {
		return nil
	}
	resp := newSaveResponse(out)
	return &resp
}

func fieldErrors(err error) []registry.FieldError {
	var verr *registry.SchemaValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	var ref *registry.ReferentialIntegrityError
	if errors.As(err, &ref) {
		return []registry.FieldError{{Field: ref.Field, Code: "reference", Reason: ref.Error()}}
	}
	var dup *registry.DuplicateIdentifierError
	if errors.As(err, &dup) {
		return []registry.FieldError{{Field: dup.Field, Code: "duplicate", Reason: dup.Error()}}
	}
	return nil
}
