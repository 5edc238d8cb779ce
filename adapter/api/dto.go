package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	calendarApp "github.com/felixgeelhaar/blade/internal/calendar/application"
	calendarDomain "github.com/felixgeelhaar/blade/internal/calendar/domain"
	identityDomain "github.com/felixgeelhaar/blade/internal/identity/domain"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode reads a JSON body into dst and validates its struct tags.
func decode(r *http.Request, dst any) *APIError {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return ErrBadRequest.with("Malformed JSON body: " + err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return ErrBadRequest.with(describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// SyncRequest selects the user to sync.
type SyncRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// EventsSyncRequest selects the user and optionally the calendar.
type EventsSyncRequest struct {
	Email      string `json:"email" validate:"required,email"`
	CalendarID string `json:"calendarId" validate:"omitempty,max=1024"`
}

// DisconnectRequest selects the user to disconnect.
type DisconnectRequest struct {
	Email           string `json:"email" validate:"required,email"`
	PurgeBusyBlocks bool   `json:"purgeBusyBlocks"`
}

// RegisterUserRequest carries a new user's profile.
type RegisterUserRequest struct {
	Email    string   `json:"email" validate:"required,email"`
	Name     string   `json:"name" validate:"required,max=100"`
	Username string   `json:"username" validate:"omitempty,max=100"`
	Squad    string   `json:"squad" validate:"omitempty,max=100"`
	Age      *int     `json:"age" validate:"omitempty,min=0,max=150"`
	Weight   *float64 `json:"weight" validate:"omitempty,gt=0"`
	Height   *float64 `json:"height" validate:"omitempty,gt=0"`
}

// CreateBusyRequest carries a manual busy block.
type CreateBusyRequest struct {
	Email       string    `json:"email" validate:"required,email"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required,gtfield=Start"`
	Name        string    `json:"name" validate:"omitempty,max=200"`
	Description string    `json:"description" validate:"omitempty,max=2000"`
}

// BusyBlockResponse is the wire form of a busy block.
type BusyBlockResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Email       string     `json:"email"`
	Squad       string     `json:"squad,omitempty"`
	Date        string     `json:"date"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Source      string     `json:"source"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	SyncedAt    *time.Time `json:"syncedAt,omitempty"`
}

func toBusyBlockResponse(b *calendarDomain.BusyBlock) BusyBlockResponse {
	owner := b.Owner()
	return BusyBlockResponse{
		ID:          b.ID().String(),
		UserID:      owner.ID.String(),
		Email:       owner.Email,
		Squad:       owner.Group,
		Date:        b.Date(),
		Start:       b.Start(),
		End:         b.End(),
		Source:      b.Source().String(),
		Name:        b.Label(),
		Description: b.Description(),
		SyncedAt:    b.SyncedAt(),
	}
}

func toBusyBlockResponses(blocks []*calendarDomain.BusyBlock) []BusyBlockResponse {
	out := make([]BusyBlockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBusyBlockResponse(b))
	}
	return out
}

// BusySyncResponse is the body of POST /calendar/sync.
type BusySyncResponse struct {
	Status     string              `json:"status"`
	ConnectURL string              `json:"connectUrl,omitempty"`
	Blocks     []BusyBlockResponse `json:"blocks,omitempty"`
}

func toBusySyncResponse(res calendarDomain.BusySyncResult) BusySyncResponse {
	if res.Status == calendarDomain.StatusConnectRequired {
		return BusySyncResponse{Status: string(res.Status), ConnectURL: res.ConnectURL}
	}
	return BusySyncResponse{Status: string(res.Status), Blocks: toBusyBlockResponses(res.Blocks)}
}

// EventsSyncResponse is the body of POST /calendar/events/sync.
type EventsSyncResponse struct {
	Status       string                      `json:"status"`
	ConnectURL   string                      `json:"connectUrl,omitempty"`
	CalendarID   string                      `json:"calendarId,omitempty"`
	TotalFetched int                         `json:"totalFetched"`
	Inserted     int                         `json:"inserted"`
	Updated      int                         `json:"updated"`
	Unchanged    int                         `json:"unchanged"`
	Errors       []calendarDomain.EventError `json:"errors"`
}

func toEventsSyncResponse(res calendarDomain.EventsSyncResult) EventsSyncResponse {
	if res.Status == calendarDomain.StatusConnectRequired {
		return EventsSyncResponse{
			Status:     string(res.Status),
			ConnectURL: res.ConnectURL,
			Errors:     []calendarDomain.EventError{},
		}
	}
	errs := res.Report.Errors
	if errs == nil {
		errs = []calendarDomain.EventError{}
	}
	return EventsSyncResponse{
		Status:       string(res.Status),
		CalendarID:   res.Report.CalendarID,
		TotalFetched: res.Report.TotalFetched,
		Inserted:     res.Report.Inserted,
		Updated:      res.Report.Updated,
		Unchanged:    res.Report.Unchanged,
		Errors:       errs,
	}
}

// DisconnectResponse is the body of POST /calendar/disconnect.
type DisconnectResponse struct {
	Status       string `json:"status"`
	Revoked      bool   `json:"revoked"`
	PurgedBlocks int    `json:"purgedBlocks"`
}

func toDisconnectResponse(res calendarApp.DisconnectResult) DisconnectResponse {
	return DisconnectResponse{Status: "disconnected", Revoked: res.Revoked, PurgedBlocks: res.PurgedBlocks}
}

// UserResponse is the wire form of a user.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Username  string    `json:"username,omitempty"`
	Squad     string    `json:"squad,omitempty"`
	Age       *int      `json:"age,omitempty"`
	Weight    *float64  `json:"weight,omitempty"`
	Height    *float64  `json:"height,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *identityDomain.User) UserResponse {
	p := u.Profile()
	return UserResponse{
		ID:        u.ID().String(),
		Email:     u.Email().String(),
		Name:      u.Name().String(),
		Username:  p.Username,
		Squad:     p.Squad,
		Age:       p.Age,
		Weight:    p.Weight,
		Height:    p.Height,
		CreatedAt: u.CreatedAt(),
	}
}
