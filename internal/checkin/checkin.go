// Package checkin records guests' arrivals. Recording the same guest twice
// for the same event is not an error: the second attempt returns the first
// check-in flagged as a duplicate.
package checkin

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wedding-invites/internal/apperr"
	"wedding-invites/internal/audit"
	"wedding-invites/internal/models"
	"wedding-invites/internal/storage"
	"wedding-invites/internal/token"
)

// Request describes one arrival
type Request struct {
	TenantID   string
	GuestID    string
	EventID    string
	Method     models.Method
	DeviceID   string
	Notes      string
	OperatorID string
}

// ScanRequest is an arrival registered by scanning a guest's QR code
type ScanRequest struct {
	TenantID   string
	Code       string
	EventID    string
	DeviceID   string
	Notes      string
	OperatorID string
}

// Outcome is the result of Record
type Outcome struct {
	Created   bool            `json:"created"`
	Duplicate bool            `json:"duplicate"`
	CheckIn   *models.CheckIn `json:"checkin"`
	Guest     *models.Guest   `json:"guest"`
	Event     *models.Event   `json:"event,omitempty"`
}

// Options configures a Recorder
type Options struct {
	// Location defines "today" in listings. Defaults to UTC.
	Location *time.Location
}

// Recorder registers check-ins
type Recorder struct {
	store *storage.Store
	codec *token.Codec
	audit *audit.Writer
	loc   *time.Location
	log   zerolog.Logger
	now   func() time.Time
}

// NewRecorder creates a recorder. codec may be nil when QR scanning is not
// configured.
func NewRecorder(store *storage.Store, codec *token.Codec, auditor *audit.Writer, opts Options, log zerolog.Logger) *Recorder {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Recorder{
		store: store,
		codec: codec,
		audit: auditor,
		loc:   loc,
		log:   log.With().Str("component", "checkin").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record registers an arrival, or returns the existing check-in of the same
// guest and event as a duplicate. Both outcomes are audited.
func (r *Recorder) Record(ctx context.Context, req Request) (*Outcome, error) {
	if !req.Method.Valid() {
		return nil, apperr.InvalidField(apperr.ReasonInvalidMethod, "method", "check-in method must be qr or manual, got %q", req.Method)
	}

	out := &Outcome{}
	err := r.store.WithTx(ctx, func(tx *storage.Tx) error {
		guest, err := tx.LockGuest(ctx, req.GuestID)
		if err != nil {
			return notFound(err, "guest")
		}
		if guest.TenantID != req.TenantID {
			return apperr.NotFound(apperr.ReasonTenantMismatch, "guest not found")
		}
		out.Guest = guest

		eventKey := ""
		if req.EventID != "" {
			event, err := tx.GetEvent(ctx, req.EventID)
			if err != nil {
				return notFound(err, "event")
			}
			if event.TenantID != req.TenantID {
				return apperr.NotFound(apperr.ReasonTenantMismatch, "event not found")
			}
			out.Event = event
			eventKey = event.ID
		}

		existing, err := tx.FindLatestCheckIn(ctx, guest.ID, eventKey)
		switch {
		case err == nil:
			out.Duplicate = true
			out.CheckIn = existing
			return r.record(ctx, tx, req, audit.CheckInDuplicateIgnored, existing)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}

		if out.Event != nil && !out.Event.Active {
			return apperr.Invalid(apperr.ReasonEventInactive, "event %s is not active", out.Event.Name)
		}

		c := &models.CheckIn{
			ID:          uuid.NewString(),
			TenantID:    req.TenantID,
			GuestID:     guest.ID,
			EventKey:    eventKey,
			Method:      req.Method,
			DeviceID:    strings.TrimSpace(req.DeviceID),
			Notes:       strings.TrimSpace(req.Notes),
			CheckedInAt: r.now(),
		}
		if out.Event != nil {
			c.EventID = &out.Event.ID
		}
		if req.OperatorID != "" {
			op := req.OperatorID
			c.OperatorID = &op
		}
		if err := tx.InsertCheckIn(ctx, c); err != nil {
			return err
		}
		out.Created = true
		out.CheckIn = c
		return r.record(ctx, tx, req, audit.CheckInRecorded, c)
	})
	if err != nil {
		return nil, err
	}

	ev := r.log.Info()
	if out.Duplicate {
		ev = r.log.Debug()
	}
	ev.Str("tenant_id", req.TenantID).
		Str("guest_id", req.GuestID).
		Str("event_id", req.EventID).
		Str("method", string(req.Method)).
		Bool("duplicate", out.Duplicate).
		Msg("Check-in processed")
	return out, nil
}

func (r *Recorder) record(ctx context.Context, tx *storage.Tx, req Request, action string, c *models.CheckIn) error {
	ctxMap := map[string]any{
		audit.KeyGuestID: c.GuestID,
		"checkin_id":     c.ID,
		"method":         string(req.Method),
	}
	if c.EventID != nil {
		ctxMap[audit.KeyEventID] = *c.EventID
	}
	if req.DeviceID != "" {
		ctxMap["device_id"] = req.DeviceID
	}
	_, err := r.audit.Record(ctx, tx, audit.Entry{
		TenantID: req.TenantID,
		ActorID:  req.OperatorID,
		Action:   action,
		Context:  ctxMap,
	})
	return err
}

// RecordScan resolves a scanned guest code and records a qr check-in
func (r *Recorder) RecordScan(ctx context.Context, req ScanRequest) (*Outcome, error) {
	if r.codec == nil {
		return nil, &apperr.UnsupportedError{Operation: "qr check-in", Missing: "a qr key"}
	}
	guestID, err := r.codec.Resolve(req.Code, req.TenantID)
	if err != nil {
		return nil, err
	}
	return r.Record(ctx, Request{
		TenantID:   req.TenantID,
		GuestID:    guestID,
		EventID:    req.EventID,
		Method:     models.MethodQR,
		DeviceID:   req.DeviceID,
		Notes:      req.Notes,
		OperatorID: req.OperatorID,
	})
}

// Filter narrows ListForWedding
type Filter struct {
	EventID string
	Method  models.Method
	Search  string
	// Limit caps the returned rows; aggregates cover every match.
	Limit int
}

// EventCount is the number of check-ins at one event. EventID is empty for
// check-ins not tied to an event.
type EventCount struct {
	EventID string `json:"event_id"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
}

// Listing is a page of check-ins with counts
type Listing struct {
	CheckIns          []storage.CheckInRow  `json:"checkins"`
	Total             int                   `json:"total"`
	Today             int                   `json:"today"`
	ByMethod          map[models.Method]int `json:"by_method"`
	ByEvent           []EventCount          `json:"by_event"`

	// DuplicatesLast24h counts ignored repeat check-ins of the last day
	// under the same event, method and search filters.
	DuplicatesLast24h int `json:"duplicates_last_24h"`
}

// ListForWedding lists a tenant's check-ins, newest first
func (r *Recorder) ListForWedding(ctx context.Context, tenantID string, f Filter) (*Listing, error) {
	rows, err := r.store.ListCheckIns(ctx, tenantID, storage.CheckInFilter{
		EventID: f.EventID,
		Method:  f.Method,
		Search:  strings.TrimSpace(f.Search),
	})
	if err != nil {
		return nil, err
	}

	now := r.now()
	y, m, d := now.In(r.loc).Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, r.loc)

	l := &Listing{
		Total:    len(rows),
		ByMethod: map[models.Method]int{},
	}
	byEvent := map[string]*EventCount{}
	for _, row := range rows {
		l.ByMethod[row.Method]++
		if !row.CheckedInAt.Before(midnight) {
			l.Today++
		}
		id, name := "", ""
		if row.EventID != nil {
			id = *row.EventID
		}
		if row.EventName != nil {
			name = *row.EventName
		}
		ec, ok := byEvent[id]
		if !ok {
			ec = &EventCount{EventID: id, Name: name}
			byEvent[id] = ec
		}
		ec.Count++
	}
	for _, ec := range byEvent {
		l.ByEvent = append(l.ByEvent, *ec)
	}
	sort.Slice(l.ByEvent, func(i, j int) bool {
		if l.ByEvent[i].Count != l.ByEvent[j].Count {
			return l.ByEvent[i].Count > l.ByEvent[j].Count
		}
		return l.ByEvent[i].Name < l.ByEvent[j].Name
	})

	dups, err := r.store.ListAuditSince(ctx, tenantID, audit.CheckInDuplicateIgnored, f.EventID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	listed := make(map[string]bool, len(rows))
	for _, row := range rows {
		listed[row.GuestID] = true
	}
	for _, e := range dups {
		if f.Method != "" && e.Context["method"] != string(f.Method) {
			continue
		}
		if f.Search != "" && (e.GuestID == nil || !listed[*e.GuestID]) {
			continue
		}
		l.DuplicatesLast24h++
	}

	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	l.CheckIns = rows
	return l, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(apperr.ReasonNotFound, "%s not found", what)
	}
	return err
}
