package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/provider-availability/internal/calendar"
	"github.com/hackgods/provider-availability/internal/db"
	"github.com/hackgods/provider-availability/internal/outbox"
)

// queryable is satisfied by *pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    queryable
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// RunInTx starts a transaction unless r is already bound to one, in which
// case fn joins it.
func (r *PgRepository) RunInTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&PgRepository{q: tx})
	})
}

func (r *PgRepository) LockProviderDate(ctx context.Context, providerID uuid.UUID, date civil.Date) error {
	key := "availability:" + providerID.String() + ":" + date.String()
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

const windowColumns = `
	id, provider_id, series_id, date, start_time, end_time, timezone,
	slot_duration, break_duration, status, max_appointments_per_slot, current_appointments,
	appointment_type, location_type, location_address, location_room_number,
	base_fee::text, insurance_accepted, currency, notes, special_requirements,
	is_recurring, recurrence_pattern, recurrence_end_date, created_at, updated_at`

// Helpers

func scanWindow(row pgx.Row) (*Window, error) {
	var (
		w                 Window
		date              pgtype.Date
		start, end        pgtype.Time
		locType           *string
		address, room     *string
		baseFee           *string
		insurance         *bool
		currency          *string
		notes             *string
		pattern           *string
		recurrenceEndDate pgtype.Date
	)

	err := row.Scan(
		&w.ID,
		&w.ProviderID,
		&w.SeriesID,
		&date,
		&start,
		&end,
		&w.Timezone,
		&w.SlotDuration,
		&w.BreakDuration,
		&w.Status,
		&w.MaxAppointmentsPerSlot,
		&w.CurrentAppointments,
		&w.AppointmentType,
		&locType,
		&address,
		&room,
		&baseFee,
		&insurance,
		&currency,
		&notes,
		&w.SpecialRequirements,
		&w.IsRecurring,
		&pattern,
		&recurrenceEndDate,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	w.Date = civil.DateOf(date.Time)
	w.StartTime = timeFromPg(start)
	w.EndTime = timeFromPg(end)
	w.Location = Location{
		Type:       LocationType(deref(locType)),
		Address:    deref(address),
		RoomNumber: deref(room),
	}
	if baseFee != nil {
		fee, err := decimal.NewFromString(*baseFee)
		if err != nil {
			return nil, fmt.Errorf("parse base fee %q: %w", *baseFee, err)
		}
		w.Pricing = &Pricing{
			BaseFee:           fee,
			InsuranceAccepted: insurance != nil && *insurance,
			Currency:          strings.TrimSpace(deref(currency)),
		}
	}
	w.Notes = deref(notes)
	w.RecurrencePattern = calendar.RecurrencePattern(deref(pattern))
	if recurrenceEndDate.Valid {
		d := civil.DateOf(recurrenceEndDate.Time)
		w.RecurrenceEndDate = &d
	}
	if w.SpecialRequirements == nil {
		w.SpecialRequirements = []string{}
	}
	return &w, nil
}

func scanSlot(row pgx.Row) (Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.WindowID,
		&s.ProviderID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.PatientID,
		&s.AppointmentType,
		&s.BookingReference,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return Slot{}, err
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	return s, nil
}

func collectWindows(rows pgx.Rows) ([]Window, error) {
	defer rows.Close()

	var out []Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func dateToPg(d civil.Date) pgtype.Date {
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

func timeToPg(t civil.Time) pgtype.Time {
	micros := int64(t.Hour)*int64(time.Hour/time.Microsecond) +
		int64(t.Minute)*int64(time.Minute/time.Microsecond) +
		int64(t.Second)*int64(time.Second/time.Microsecond) +
		int64(t.Nanosecond/1000)
	return pgtype.Time{Microseconds: micros, Valid: true}
}

func timeFromPg(t pgtype.Time) civil.Time {
	d := time.Duration(t.Microseconds) * time.Microsecond
	return civil.Time{
		Hour:       int(d / time.Hour),
		Minute:     int(d % time.Hour / time.Minute),
		Second:     int(d % time.Minute / time.Second),
		Nanosecond: int(d % time.Second),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Interface methods

// SaveWindow inserts w or overwrites the stored row with the same id.
func (r *PgRepository) SaveWindow(ctx context.Context, w *Window) error {
	var (
		baseFee   *string
		insurance *bool
		currency  *string
		endDate   pgtype.Date
	)
	if w.Pricing != nil {
		fee := w.Pricing.BaseFee.StringFixed(2)
		baseFee = &fee
		insurance = &w.Pricing.InsuranceAccepted
		currency = nullable(w.Pricing.Currency)
	}
	if w.RecurrenceEndDate != nil {
		endDate = dateToPg(*w.RecurrenceEndDate)
	}
	requirements := w.SpecialRequirements
	if requirements == nil {
		requirements = []string{}
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO provider_availability (
			id, provider_id, series_id, date, start_time, end_time, timezone,
			slot_duration, break_duration, status, max_appointments_per_slot, current_appointments,
			appointment_type, location_type, location_address, location_room_number,
			base_fee, insurance_accepted, currency, notes, special_requirements,
			is_recurring, recurrence_pattern, recurrence_end_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17::numeric, $18, $19, $20, $21,
			$22, $23, $24, $25, $26
		)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			timezone = EXCLUDED.timezone,
			slot_duration = EXCLUDED.slot_duration,
			break_duration = EXCLUDED.break_duration,
			status = EXCLUDED.status,
			max_appointments_per_slot = EXCLUDED.max_appointments_per_slot,
			current_appointments = EXCLUDED.current_appointments,
			appointment_type = EXCLUDED.appointment_type,
			location_type = EXCLUDED.location_type,
			location_address = EXCLUDED.location_address,
			location_room_number = EXCLUDED.location_room_number,
			base_fee = EXCLUDED.base_fee,
			insurance_accepted = EXCLUDED.insurance_accepted,
			currency = EXCLUDED.currency,
			notes = EXCLUDED.notes,
			special_requirements = EXCLUDED.special_requirements,
			is_recurring = EXCLUDED.is_recurring,
			recurrence_pattern = EXCLUDED.recurrence_pattern,
			recurrence_end_date = EXCLUDED.recurrence_end_date,
			updated_at = EXCLUDED.updated_at
	`,
		w.ID, w.ProviderID, w.SeriesID, dateToPg(w.Date), timeToPg(w.StartTime), timeToPg(w.EndTime), w.Timezone,
		w.SlotDuration, w.BreakDuration, string(w.Status), w.MaxAppointmentsPerSlot, w.CurrentAppointments,
		string(w.AppointmentType), nullable(string(w.Location.Type)), nullable(w.Location.Address), nullable(w.Location.RoomNumber),
		baseFee, insurance, currency, nullable(w.Notes), requirements,
		w.IsRecurring, nullable(string(w.RecurrencePattern)), endDate, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if db.HasSQLState(err, db.SQLStateExclusionViolation) {
			return &ConflictError{Date: w.Date}
		}
		if db.HasSQLState(err, db.SQLStateCheckViolation) {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return err
	}
	return nil
}

func (r *PgRepository) FindWindowByID(ctx context.Context, id uuid.UUID) (*Window, error) {
	row := r.q.QueryRow(ctx, `SELECT `+windowColumns+`
		FROM provider_availability
		WHERE id = $1
	`, id)
	return scanWindow(row)
}

func (r *PgRepository) FindOverlappingWindows(ctx context.Context, providerID uuid.UUID, date civil.Date, start, end civil.Time, excludeID *uuid.UUID) ([]Window, error) {
	rows, err := r.q.Query(ctx, `SELECT `+windowColumns+`
		FROM provider_availability
		WHERE provider_id = $1
		  AND date = $2
		  AND start_time < $4
		  AND end_time > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_time
	`, providerID, dateToPg(date), timeToPg(start), timeToPg(end), excludeID)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

func (r *PgRepository) FindWindowsByProviderAndDateRange(ctx context.Context, providerID uuid.UUID, from, to civil.Date, page Page) ([]Window, int, error) {
	page = page.normalize()

	var total int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM provider_availability
		WHERE provider_id = $1 AND date BETWEEN $2 AND $3
	`, providerID, dateToPg(from), dateToPg(to)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.q.Query(ctx, `SELECT `+windowColumns+`
		FROM provider_availability
		WHERE provider_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, start_time
		LIMIT $4 OFFSET $5
	`, providerID, dateToPg(from), dateToPg(to), page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	windows, err := collectWindows(rows)
	if err != nil {
		return nil, 0, err
	}
	return windows, total, nil
}

func (r *PgRepository) FindWindowsBySeries(ctx context.Context, seriesID uuid.UUID) ([]Window, error) {
	rows, err := r.q.Query(ctx, `SELECT `+windowColumns+`
		FROM provider_availability
		WHERE series_id = $1
		ORDER BY date, start_time
	`, seriesID)
	if err != nil {
		return nil, err
	}
	return collectWindows(rows)
}

// searchWhere renders filter as a WHERE clause and its positional arguments.
func searchWhere(filter SearchFilter) (string, []any) {
	conds := []string{"status = $1"}
	args := []any{string(WindowAvailable)}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.From != nil {
		add("date >= $%d", dateToPg(*filter.From))
	}
	if filter.To != nil {
		add("date <= $%d", dateToPg(*filter.To))
	}
	if filter.AppointmentType != nil {
		add("appointment_type = $%d", string(*filter.AppointmentType))
	}
	if filter.InsuranceAccepted != nil {
		add("base_fee IS NOT NULL AND insurance_accepted = $%d", *filter.InsuranceAccepted)
	}
	if filter.MaxPrice != nil {
		add("base_fee <= $%d::numeric", filter.MaxPrice.String())
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *PgRepository) SearchWindows(ctx context.Context, filter SearchFilter, page Page) ([]Window, int, error) {
	page = page.normalize()
	where, args := searchWhere(filter)

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM provider_availability `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, page.Size, page.Offset())
	rows, err := r.q.Query(ctx, fmt.Sprintf(`SELECT %s
		FROM provider_availability
		%s
		ORDER BY date, start_time, provider_id
		LIMIT $%d OFFSET $%d
	`, windowColumns, where, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	windows, err := collectWindows(rows)
	if err != nil {
		return nil, 0, err
	}
	return windows, total, nil
}

func (r *PgRepository) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM provider_availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) SaveSlots(ctx context.Context, slots []Slot) error {
	if len(slots) == 0 {
		return nil
	}
	_, err := r.q.CopyFrom(ctx,
		pgx.Identifier{"appointment_slots"},
		[]string{
			"id", "availability_id", "provider_id", "slot_start_time", "slot_end_time", "status",
			"patient_id", "appointment_type", "booking_reference", "created_at", "updated_at",
		},
		pgx.CopyFromSlice(len(slots), func(i int) ([]any, error) {
			s := slots[i]
			return []any{
				s.ID, s.WindowID, s.ProviderID, s.StartTime, s.EndTime, string(s.Status),
				s.PatientID, string(s.AppointmentType), s.BookingReference, s.CreatedAt, s.UpdatedAt,
			}, nil
		}),
	)
	if err != nil {
		if db.HasSQLState(err, db.SQLStateUniqueViolation) {
			return fmt.Errorf("%w: duplicate slot", ErrInvalidRequest)
		}
		if db.HasSQLState(err, db.SQLStateCheckViolation) {
			return fmt.Errorf("%w: slot range rejected", ErrInvalidRequest)
		}
		return err
	}
	return nil
}

const slotColumns = `
	id, availability_id, provider_id, slot_start_time, slot_end_time, status,
	patient_id, appointment_type, booking_reference, created_at, updated_at`

func (r *PgRepository) FindSlotsByWindowID(ctx context.Context, windowID uuid.UUID) ([]Slot, error) {
	byWindow, err := r.FindSlotsByWindowIDs(ctx, []uuid.UUID{windowID})
	if err != nil {
		return nil, err
	}
	return byWindow[windowID], nil
}

func (r *PgRepository) FindSlotsByWindowIDs(ctx context.Context, windowIDs []uuid.UUID) (map[uuid.UUID][]Slot, error) {
	out := make(map[uuid.UUID][]Slot, len(windowIDs))
	if len(windowIDs) == 0 {
		return out, nil
	}

	rows, err := r.q.Query(ctx, `SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE availability_id = ANY($1)
		ORDER BY availability_id, slot_start_time
	`, windowIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out[s.WindowID] = append(out[s.WindowID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) DeleteSlotsByWindowID(ctx context.Context, windowID uuid.UUID) (int, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM appointment_slots WHERE availability_id = $1`, windowID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev outbox.Event) error {
	return outbox.Insert(ctx, r.q, ev)
}
