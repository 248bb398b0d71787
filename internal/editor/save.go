package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenCoralTools/oct-registry/internal/gateway"
	"github.com/OpenCoralTools/oct-registry/internal/validation"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

// ProposalInfo titles a review request. Empty fields default to the commit
// message.
type ProposalInfo struct {
	Title       string
	Description string
}

type submission struct {
	candidate registry.Record
	isEdit    bool
	propose   *ProposalInfo
}

// Save validates candidate and commits the merged registry conditioned on
// the revision the working copy was loaded at. An edit replaces the record
// with the same identifier (or appends it); a create rejects a taken
// identifier.
//
// Only one submission runs at a time; a concurrent call fails with
// registry.ErrSaveInProgress. The submission runs detached from ctx: if ctx
// ends first Save returns ctx.Err() while the write finishes in the
// background, and its outcome is reported by LastSave.
func (e *Editor) Save(ctx context.Context, candidate registry.Record, isEdit bool) (SaveOutcome, error) {
	return e.submit(ctx, submission{candidate: candidate, isEdit: isEdit})
}

// Propose validates candidate like Save but opens a review request instead
// of writing the registry. The working copy is left unchanged.
func (e *Editor) Propose(ctx context.Context, candidate registry.Record, isEdit bool, info ProposalInfo) (SaveOutcome, error) {
	return e.submit(ctx, submission{candidate: candidate, isEdit: isEdit, propose: &info})
}

// WaitSave blocks until no submission is in flight and returns the last outcome.
func (e *Editor) WaitSave(ctx context.Context) (SaveOutcome, error) {
	e.mu.Lock()
	done := e.saveDone
	e.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return SaveOutcome{}, ctx.Err()
		}
	}
	out, _ := e.LastSave()
	return out, nil
}

func (e *Editor) submit(ctx context.Context, sub submission) (SaveOutcome, error) {
	e.mu.Lock()
	if e.saving {
		e.mu.Unlock()
		return SaveOutcome{}, registry.ErrSaveInProgress
	}
	if err := e.readyLocked(); err != nil {
		e.mu.Unlock()
		return SaveOutcome{}, err
	}
	if e.token() == "" {
		e.mu.Unlock()
		return SaveOutcome{}, registry.ErrUnauthenticated
	}
	if e.source != SourceRemote {
		err := fmt.Errorf("%w: working copy is the bundled snapshot", registry.ErrRemoteUnavailable)
		if e.dataErr != nil {
			err = e.dataErr
		}
		e.mu.Unlock()
		return SaveOutcome{}, err
	}
	validator, version := e.validator, e.version
	done := make(chan struct{})
	e.saving = true
	e.saveDone = done
	e.saveState = SaveValidating
	e.mu.Unlock()

	result := make(chan SaveOutcome, 1)
	go func() {
		defer close(done)
		out := e.run(context.WithoutCancel(ctx), sub, validator, version)
		e.mu.Lock()
		e.saving = false
		e.saveState = out.State
		e.last = &out
		e.mu.Unlock()
		result <- out
	}()

	select {
	case out := <-result:
		return out, out.Err
	case <-ctx.Done():
		return SaveOutcome{State: SavePersisting, IsEdit: sub.isEdit, Candidate: sub.candidate.Clone()}, ctx.Err()
	}
}

func (e *Editor) setSaveState(s SaveState) {
	e.mu.Lock()
	e.saveState = s
	e.mu.Unlock()
}

func (e *Editor) run(ctx context.Context, sub submission, validator validation.Structural, version string) SaveOutcome {
	start := time.Now()
	op := "save"
	if sub.propose != nil {
		op = "propose"
	}
	out := SaveOutcome{IsEdit: sub.isEdit, Candidate: sub.candidate.Clone()}
	finish := func(state SaveState, err error) SaveOutcome {
		out.State, out.Err = state, err
		e.recorder.Observe(ctx, op, string(state), time.Since(start))
		return out
	}

	rec, err := e.engine.Validate(ctx, validation.Input{
		Registry:      e.name,
		Candidate:     sub.candidate,
		Validator:     validator,
		SchemaVersion: version,
		View:          e.cache.View(),
	})
	if err != nil {
		e.logger.Info("submission rejected", "registry", e.name, "error", err)
		return finish(SaveRejected, err)
	}
	out.Record = rec
	merged, base, err := e.cache.MergeAt(rec, sub.isEdit)
	if err != nil {
		e.logger.Info("submission rejected", "registry", e.name, "error", err)
		return finish(SaveRejected, err)
	}
	content, err := registry.EncodeFile(merged)
	if err != nil {
		return finish(SaveFailed, err)
	}
	id := rec.String(e.name.IdentifierField())
	out.Message = CommitMessage(e.name, sub.isEdit, id)

	e.setSaveState(SavePersisting)
	if sub.propose != nil {
		title := sub.propose.Title
		if title == "" {
			title = out.Message
		}
		description := sub.propose.Description
		if description == "" {
			description = out.Message
		}
		pr, err := e.store.ProposeChange(ctx, gateway.Proposal{
			Path: e.path, Content: content, Message: out.Message, Title: title, Description: description,
		})
		if err != nil {
			e.logger.Error("proposal failed", "registry", e.name, "id", id, "error", err)
			return finish(SaveFailed, err)
		}
		out.PullRequest = &pr
		e.logger.Info("change proposed", "registry", e.name, "id", id, "branch", pr.Branch, "url", pr.URL)
		return finish(SaveProposed, nil)
	}

	res, err := e.store.WriteFile(ctx, gateway.WriteRequest{
		Path: e.path, Content: content, Message: out.Message, Revision: base,
	})
	switch {
	case errors.Is(err, registry.ErrRevisionConflict):
		e.logger.Warn("revision conflict, reload required", "registry", e.name, "id", id, "revision", base)
		return finish(SaveConflict, err)
	case err != nil:
		e.logger.Error("commit failed", "registry", e.name, "id", id, "error", err)
		return finish(SaveFailed, err)
	}
	persisted := merged
	if res.Content != nil {
		if canonical, derr := registry.DecodeFile(res.Content); derr == nil {
			persisted = canonical
		} else {
			e.logger.Warn("store returned undecodable content, keeping local merge", "registry", e.name, "error", derr)
		}
	}
	e.applySaved(persisted, res.Revision)
	out.Revision = res.Revision
	e.logger.Info("registry committed", "registry", e.name, "id", id, "revision", res.Revision)
	return finish(SaveCommitted, nil)
}

// CommitMessage formats the message recorded with a registry write.
func CommitMessage(name registry.Name, isEdit bool, id string) string {
	verb := "Add"
	if isEdit {
		verb = "Edit"
	}
	return fmt.Sprintf("Update %s registry: %s %s", name, verb, id)
}
