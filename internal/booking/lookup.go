package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Query identifies bookings. The first non-empty field wins, in the
// order ConfirmationNumber, Email, Phone, Name.
type Query struct {
	ConfirmationNumber string
	Email              string
	Phone              string
	Name               string
}

func (q Query) empty() bool {
	return strings.TrimSpace(q.ConfirmationNumber) == "" &&
		strings.TrimSpace(q.Email) == "" &&
		strings.TrimSpace(q.Phone) == "" &&
		strings.TrimSpace(q.Name) == ""
}

// where renders q as a WHERE clause. Confirmation numbers and emails
// match exactly ignoring case; phones match on digits anywhere in the
// stored number; names match any substring ignoring case.
func (q Query) where() (string, []any, error) {
	switch {
	case strings.TrimSpace(q.ConfirmationNumber) != "":
		return `UPPER(confirmation_number) = ?`, []any{strings.ToUpper(strings.TrimSpace(q.ConfirmationNumber))}, nil
	case strings.TrimSpace(q.Email) != "":
		return `guest_email = ?`, []any{strings.ToLower(strings.TrimSpace(q.Email))}, nil
	case strings.TrimSpace(q.Phone) != "":
		d := digits(q.Phone)
		if d == "" {
			return "", nil, guestErrorf("That phone number doesn't contain any digits.")
		}
		return `phone_digits LIKE ?`, []any{"%" + d + "%"}, nil
	case strings.TrimSpace(q.Name) != "":
		return `guest_name LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(strings.TrimSpace(q.Name)) + "%"}, nil
	default:
		return "", nil, guestErrorf("Please provide a confirmation number, email, phone number, or guest name.")
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

const bookingColumns = `confirmation_number, guest_name, guest_email, guest_phone, room_number,
	room_type, floor, check_in, check_out, num_guests, price_per_night, total_price, status,
	special_requests`

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(sc scanner) (Booking, error) {
	var b Booking
	var t, requests string
	err := sc.Scan(&b.ConfirmationNumber, &b.GuestName, &b.GuestEmail, &b.GuestPhone, &b.RoomNumber,
		&t, &b.Floor, &b.CheckIn, &b.CheckOut, &b.NumGuests, &b.PricePerNight, &b.TotalPrice, &b.Status,
		&requests)
	if err != nil {
		return Booking{}, err
	}
	b.RoomType = RoomType(t)
	if err := json.Unmarshal([]byte(requests), &b.SpecialRequests); err != nil {
		return Booking{}, fmt.Errorf("decode special requests for %s: %w", b.ConfirmationNumber, err)
	}
	if b.SpecialRequests == nil {
		b.SpecialRequests = []string{}
	}
	return b, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const lookupLimit = 10

func findBookings(ctx context.Context, db queryer, q Query) ([]Booking, error) {
	where, args, err := q.where()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE `+where+` ORDER BY check_in, confirmation_number LIMIT ?`,
		append(args, lookupLimit)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Lookup returns up to ten bookings matching q.
func (s *Store) Lookup(ctx context.Context, q Query) ([]Booking, error) {
	found, err := findBookings(ctx, s.db, q)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, guestErrorf("No booking found with that information.")
	}
	return found, nil
}

// findOne resolves q to exactly one booking inside tx.
func findOne(ctx context.Context, tx *sql.Tx, q Query) (Booking, error) {
	found, err := findBookings(ctx, tx, q)
	if err != nil {
		return Booking{}, err
	}
	switch len(found) {
	case 0:
		return Booking{}, guestErrorf("No booking found with that information.")
	case 1:
		return found[0], nil
	default:
		return Booking{}, guestErrorf("I found %d bookings with that information. Could you give me the confirmation number?", len(found))
	}
}

// Cancel removes a booking whose stay has not started.
func (s *Store) Cancel(ctx context.Context, q Query) (Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback()

	b, err := findOne(ctx, tx, q)
	if err != nil {
		return Booking{}, err
	}
	if b.CheckIn < s.today() {
		return Booking{}, guestErrorf("Cannot cancel a booking for a past date.")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE confirmation_number = ?`, b.ConfirmationNumber); err != nil {
		return Booking{}, fmt.Errorf("delete booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Booking{}, fmt.Errorf("commit cancel: %w", err)
	}
	b.Status = "cancelled"
	return b, nil
}

// SpecialRequestResult reports whether a request was new.
type SpecialRequestResult struct {
	Booking Booking `json:"booking"`
	Added   bool    `json:"added"`
}

// AddSpecialRequest appends a request to a booking. A request already
// on file, ignoring case, is reported as success without a change.
func (s *Store) AddSpecialRequest(ctx context.Context, q Query, request string) (SpecialRequestResult, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return SpecialRequestResult{}, guestErrorf("What special request would you like me to add?")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SpecialRequestResult{}, err
	}
	defer tx.Rollback()

	b, err := findOne(ctx, tx, q)
	if err != nil {
		return SpecialRequestResult{}, err
	}
	if containsFold(b.SpecialRequests, request) {
		return SpecialRequestResult{Booking: b}, nil
	}

	b.SpecialRequests = append(b.SpecialRequests, request)
	raw, err := json.Marshal(b.SpecialRequests)
	if err != nil {
		return SpecialRequestResult{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE bookings SET special_requests = ?, updated_at = ? WHERE confirmation_number = ?`,
		string(raw), s.now().UTC().Format(time.RFC3339), b.ConfirmationNumber,
	)
	if err != nil {
		return SpecialRequestResult{}, fmt.Errorf("update special requests: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SpecialRequestResult{}, fmt.Errorf("commit special request: %w", err)
	}
	return SpecialRequestResult{Booking: b, Added: true}, nil
}

// Change lists the fields of a booking to modify. Empty fields keep
// their current value.
type Change struct {
	CheckIn   string
	CheckOut  string
	RoomType  string
	NumGuests int
}

func (c Change) empty() bool {
	return strings.TrimSpace(c.CheckIn) == "" && strings.TrimSpace(c.CheckOut) == "" &&
		strings.TrimSpace(c.RoomType) == "" && c.NumGuests == 0
}

// Update changes the dates, room type, or party size of a booking. The
// current room is kept when it is still free and of the right type;
// otherwise another free room is assigned. Prices are recomputed.
func (s *Store) Update(ctx context.Context, q Query, c Change) (Booking, error) {
	if c.empty() {
		return Booking{}, guestErrorf("What would you like to change about the booking?")
	}
	if c.NumGuests < 0 {
		return Booking{}, guestErrorf("Number of guests must be positive.")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback()

	b, err := findOne(ctx, tx, q)
	if err != nil {
		return Booking{}, err
	}
	if b.CheckIn < s.today() {
		return Booking{}, guestErrorf("Cannot modify a booking for a past date.")
	}

	checkIn, checkOut := b.CheckIn, b.CheckOut
	if v := strings.TrimSpace(c.CheckIn); v != "" {
		checkIn = v
	}
	if v := strings.TrimSpace(c.CheckOut); v != "" {
		checkOut = v
	}
	st, err := s.parseStay(checkIn, checkOut)
	if err != nil {
		return Booking{}, err
	}
	t := b.RoomType
	if strings.TrimSpace(c.RoomType) != "" {
		if t, err = ParseRoomType(c.RoomType); err != nil {
			return Booking{}, err
		}
	}
	guests := b.NumGuests
	if c.NumGuests > 0 {
		guests = c.NumGuests
	}
	if err := checkCapacity(t, guests); err != nil {
		return Booking{}, err
	}

	room, err := keepOrReassign(ctx, tx, b, t, st)
	if err != nil {
		return Booking{}, err
	}

	b.RoomType = t
	b.RoomNumber = room.Number
	b.Floor = room.Floor
	b.CheckIn, b.CheckOut = st.checkIn, st.checkOut
	b.NumGuests = guests
	b.PricePerNight = room.PricePerNight
	b.TotalPrice = room.PricePerNight * st.nights

	_, err = tx.ExecContext(ctx, `
		UPDATE bookings
		SET room_number = ?, room_type = ?, floor = ?, check_in = ?, check_out = ?, num_guests = ?,
			price_per_night = ?, total_price = ?, updated_at = ?
		WHERE confirmation_number = ?`,
		b.RoomNumber, string(b.RoomType), b.Floor, b.CheckIn, b.CheckOut, b.NumGuests,
		b.PricePerNight, b.TotalPrice, s.now().UTC().Format(time.RFC3339), b.ConfirmationNumber,
	)
	if err != nil {
		return Booking{}, fmt.Errorf("update booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Booking{}, fmt.Errorf("commit update: %w", err)
	}
	return b, nil
}

func keepOrReassign(ctx context.Context, tx *sql.Tx, b Booking, t RoomType, st stay) (Room, error) {
	if t == b.RoomType {
		var r Room
		err := tx.QueryRowContext(ctx, `
			SELECT r.room_number, r.floor, r.price_per_night, r.capacity
			FROM rooms r
			WHERE r.room_number = ?
			  AND NOT EXISTS (
				SELECT 1 FROM bookings o
				WHERE o.room_number = r.room_number
				  AND o.check_in < ? AND o.check_out > ?
				  AND o.confirmation_number != ?
			  )`,
			b.RoomNumber, st.checkOut, st.checkIn, b.ConfirmationNumber,
		).Scan(&r.Number, &r.Floor, &r.PricePerNight, &r.Capacity)
		if err == nil {
			r.Type = t
			return r, nil
		}
		if err != sql.ErrNoRows {
			return Room{}, fmt.Errorf("check current room: %w", err)
		}
	}
	return freeRoom(ctx, tx, t, st, b.ConfirmationNumber)
}
