// Package api holds the wire shapes shared by the REST and gRPC adapters and
// the mapping of service errors onto them.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/dmitrijs2005/changesetd/internal/server/services"
	"github.com/dmitrijs2005/changesetd/internal/server/settings"
	"github.com/dmitrijs2005/changesetd/internal/timex"
)

type SettingEntry struct {
	Value  json.RawMessage `json:"value"`
	Type   string          `json:"type,omitempty"`
	UserID string          `json:"user_id,omitempty"`
}

type Changeset struct {
	UUID        string                  `json:"uuid"`
	Status      string                  `json:"status"`
	Title       string                  `json:"title"`
	DateGMT     *string                 `json:"date_gmt"`
	ModifiedGMT string                  `json:"modified_gmt,omitempty"`
	Author      string                  `json:"author"`
	Version     int64                   `json:"version"`
	Data        map[string]SettingEntry `json:"customize_changeset_data"`
}

func FromChangeset(c *models.Changeset) Changeset {
	out := Changeset{
		UUID:    c.UUID,
		Status:  c.Status,
		Title:   c.Title,
		Author:  c.Author,
		Version: c.Version,
		Data:    make(map[string]SettingEntry, len(c.Data)),
	}
	if c.Date != nil {
		d := timex.FormatGMT(*c.Date)
		out.DateGMT = &d
	}
	if !c.UpdatedAt.IsZero() {
		out.ModifiedGMT = timex.FormatGMT(c.UpdatedAt)
	}
	for id, e := range c.Data {
		out.Data[id] = SettingEntry{Value: e.Value, Type: e.Type, UserID: e.UserID}
	}
	return out
}

func FromChangesets(list []*models.Changeset) []Changeset {
	out := make([]Changeset, 0, len(list))
	for _, c := range list {
		out = append(out, FromChangeset(c))
	}
	return out
}

// DateInput is a date_gmt request value: a date string or a unix timestamp
// sent as a JSON number. Numbers are kept as their decimal seconds.
type DateInput string

func (d *DateInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = DateInput(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("date_gmt must be a string or a number: %w", err)
	}
	if secs, err := n.Int64(); err == nil {
		*d = DateInput(strconv.FormatInt(secs, 10))
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("date_gmt: %w", err)
	}
	*d = DateInput(strconv.FormatInt(int64(f), 10))
	return nil
}

// UpdateBody is the request body of an update.
type UpdateBody struct {
	Status  *string         `json:"status"`
	DateGMT *DateInput      `json:"date_gmt"`
	Title   *string         `json:"title"`
	Slug    *string         `json:"slug"`
	Data    json.RawMessage `json:"customize_changeset_data"`
}

func (b UpdateBody) Request() services.UpdateRequest {
	req := services.UpdateRequest{
		Status: b.Status,
		Title:  b.Title,
		Slug:   b.Slug,
		Data:   b.Data,
	}
	if b.DateGMT != nil {
		d := string(*b.DateGMT)
		req.Date = &d
	}
	return req
}

type UpdateResponse struct {
	Changeset
	SettingValidities map[string]any `json:"setting_validities,omitempty"`
	NextChangesetUUID string         `json:"next_changeset_uuid,omitempty"`
}

func FromUpdateResult(r *services.UpdateResult) UpdateResponse {
	return UpdateResponse{
		Changeset:         FromChangeset(r.Changeset),
		SettingValidities: Validities(r.Outcomes),
		NextChangesetUUID: r.NextUUID,
	}
}

// DeleteResponse is the body of a permanent delete. A trash responds with
// the trashed Changeset instead.
type DeleteResponse struct {
	Deleted  bool      `json:"deleted"`
	Previous Changeset `json:"previous"`
}

func FromDeleteResult(r *services.DeleteResult) any {
	if r.Deleted {
		return DeleteResponse{Deleted: true, Previous: FromChangeset(r.Changeset)}
	}
	return FromChangeset(r.Changeset)
}

const defaultInvalidMessage = "Invalid value."

// Validities renders outcomes as setting_validities: true for a valid
// setting, otherwise {code: {"message": ...}}.
func Validities(outcomes map[string]settings.Outcome) map[string]any {
	if len(outcomes) == 0 {
		return nil
	}
	out := make(map[string]any, len(outcomes))
	for id, o := range outcomes {
		if o.IsValid() {
			out[id] = true
			continue
		}
		msg := o.Message
		if msg == "" {
			msg = defaultInvalidMessage
		}
		out[id] = map[string]any{o.Code: map[string]string{"message": msg}}
	}
	return out
}

type ErrorData struct {
	Status            int            `json:"status"`
	SettingValidities map[string]any `json:"setting_validities,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}

type ErrorBody struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

// Transport-level codes that do not come from the service.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeInvalidJSON     = "invalid_json"
	CodeInternal        = "internal_error"
)

var httpStatus = map[string]int{
	services.CodeForbidden:           http.StatusForbidden,
	services.CodePublishUnauthorized: http.StatusForbidden,
	services.CodeCannotEditSlug:      http.StatusForbidden,
	services.CodeInvalidData:         http.StatusForbidden,
	services.CodeForbiddenContext:    http.StatusUnauthorized,
	CodeUnauthenticated:              http.StatusUnauthorized,
	services.CodeInvalidUUID:         http.StatusNotFound,
	services.CodeNotFound:            http.StatusNotFound,
	services.CodeBadStatus:           http.StatusBadRequest,
	services.CodeBadDate:             http.StatusBadRequest,
	services.CodeNotFutureDate:       http.StatusBadRequest,
	services.CodeAutoDraftDate:       http.StatusBadRequest,
	services.CodeTransactionFail:     http.StatusBadRequest,
	services.CodeInvalidContext:      http.StatusBadRequest,
	CodeInvalidJSON:                  http.StatusBadRequest,
	services.CodeAlreadyPublished:    http.StatusConflict,
	services.CodeConflict:            http.StatusConflict,
	services.CodeAlreadyTrashed:      http.StatusGone,
	services.CodeSaveFailure:         http.StatusInternalServerError,
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code string) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func NewErrorBody(code, message string) ErrorBody {
	return ErrorBody{Code: code, Message: message, Data: ErrorData{Status: HTTPStatus(code)}}
}

// ErrorFrom renders err. Errors that are not service errors become an
// opaque internal error.
func ErrorFrom(err error) ErrorBody {
	var e *services.Error
	if !errors.As(err, &e) {
		return NewErrorBody(CodeInternal, "Internal server error.")
	}
	body := NewErrorBody(e.Code, e.Message)
	body.Data.Reason = e.Reason
	body.Data.SettingValidities = Validities(e.Outcomes)
	return body
}
