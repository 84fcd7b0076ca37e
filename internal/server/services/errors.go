package services

import (
	"fmt"

	"github.com/dmitrijs2005/changesetd/internal/server/settings"
)

// Error codes reported by ChangesetService.
const (
	CodeForbidden           = "forbidden"
	CodeForbiddenContext    = "forbidden_context"
	CodeInvalidContext      = "invalid_context"
	CodeInvalidUUID         = "invalid_uuid"
	CodeNotFound            = "not_found"
	CodeBadStatus           = "bad_status"
	CodeBadDate             = "bad_date"
	CodeNotFutureDate       = "not_future_date"
	CodeAutoDraftDate       = "auto_draft_date"
	CodeAlreadyPublished    = "already_published"
	CodePublishUnauthorized = "publish_unauthorized"
	CodeCannotEditSlug      = "cannot_edit_slug"
	CodeInvalidData         = "invalid_data"
	CodeTransactionFail     = "transaction_fail"
	CodeSaveFailure         = "save_failure"
	CodeConflict            = "conflict"
	CodeAlreadyTrashed      = "already_trashed"
)

// Reasons attached to forbidden and save_failure errors.
const (
	ReasonCannotCreate = "cannot_create"
	ReasonCannotEdit   = "cannot_edit"
	ReasonEmptyContent = "empty_content"
	ReasonApplyFailed  = "apply_failed"
	ReasonStorage      = "storage_error"
)

// Error is a terminal, reported condition of a changeset operation.
type Error struct {
	Code    string
	Message string
	// Reason refines Code, e.g. the backend reason of a save_failure.
	Reason string
	// Outcomes is set on transaction_fail and lists every setting's verdict.
	Outcomes map[string]settings.Outcome
	Err      error
}

func (e *Error) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

var messages = map[string]string{
	CodeForbidden:           "Sorry, you are not allowed to do that.",
	CodeForbiddenContext:    "Sorry, you are not allowed to edit this changeset.",
	CodeInvalidContext:      "Invalid context.",
	CodeInvalidUUID:         "Invalid changeset UUID.",
	CodeNotFound:            "Changeset not found.",
	CodeBadStatus:           "Invalid status.",
	CodeBadDate:             "Invalid date.",
	CodeNotFutureDate:       "You must supply a future date to schedule.",
	CodeAutoDraftDate:       "Cannot supply a date for an auto-draft changeset.",
	CodeAlreadyPublished:    "The previous set of changes has already been published.",
	CodePublishUnauthorized: "Sorry, you are not allowed to publish changesets.",
	CodeCannotEditSlug:      "The changeset slug is its UUID and cannot be changed.",
	CodeInvalidData:         "Invalid changeset data.",
	CodeSaveFailure:         "Unable to save changeset.",
	CodeConflict:            "The changeset was modified by another request.",
	CodeAlreadyTrashed:      "The changeset has already been trashed.",
}

var reasonMessages = map[string]string{
	ReasonCannotCreate: "Sorry, you are not allowed to create changesets.",
	ReasonCannotEdit:   "Sorry, you are not allowed to edit this changeset.",
}

func newError(code string) *Error {
	return &Error{Code: code, Message: messages[code]}
}

func newReasonError(code, reason string, err error) *Error {
	e := newError(code)
	e.Reason = reason
	e.Err = err
	if m, ok := reasonMessages[reason]; ok {
		e.Message = m
	}
	return e
}

func transactionFail(outcomes map[string]settings.Outcome, rejected int) *Error {
	e := newError(CodeTransactionFail)
	e.Outcomes = outcomes
	if rejected == 1 {
		e.Message = "Unable to save due to 1 invalid setting."
	} else {
		e.Message = fmt.Sprintf("Unable to save due to %d invalid settings.", rejected)
	}
	return e
}
