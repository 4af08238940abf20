package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rate is the nightly price of a room type.
type Rate struct {
	RoomType      RoomType `json:"room_type"`
	PricePerNight int      `json:"price_per_night"`
	MaxGuests     int      `json:"max_guests"`
}

// Pricing returns nightly rates, for one room type or all of them.
func (s *Store) Pricing(ctx context.Context, roomType string) ([]Rate, error) {
	query := `SELECT room_type, MIN(price_per_night), MAX(capacity) FROM rooms`
	var args []any
	if strings.TrimSpace(roomType) != "" {
		t, err := ParseRoomType(roomType)
		if err != nil {
			return nil, err
		}
		query += ` WHERE room_type = ?`
		args = append(args, string(t))
	}
	query += ` GROUP BY room_type ORDER BY MIN(price_per_night)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rates: %w", err)
	}
	defer rows.Close()

	var rates []Rate
	for rows.Next() {
		var r Rate
		var t string
		if err := rows.Scan(&t, &r.PricePerNight, &r.MaxGuests); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		r.RoomType = RoomType(t)
		rates = append(rates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rates) == 0 {
		return nil, guestErrorf("No rates found for that room type.")
	}
	return rates, nil
}

// HotelAmenities are shared by every guest regardless of room.
var HotelAmenities = []string{
	"Pool", "Spa", "Gym", "Restaurant", "Bar", "Business Center", "Free Parking", "Concierge",
}

// RoomAmenities describes what a room type includes.
type RoomAmenities struct {
	RoomType       RoomType `json:"room_type"`
	RoomAmenities  []string `json:"room_amenities"`
	HotelAmenities []string `json:"hotel_amenities"`
	PricePerNight  int      `json:"price_per_night"`
	MaxGuests      int      `json:"max_guests"`
}

// Amenities returns the in-room and hotel-wide amenities for a room
// type.
func (s *Store) Amenities(ctx context.Context, roomType string) (RoomAmenities, error) {
	t, err := ParseRoomType(roomType)
	if err != nil {
		return RoomAmenities{}, err
	}

	var raw string
	out := RoomAmenities{RoomType: t, HotelAmenities: HotelAmenities}
	err = s.db.QueryRowContext(ctx,
		`SELECT amenities, price_per_night, capacity FROM rooms WHERE room_type = ? ORDER BY room_number LIMIT 1`,
		string(t),
	).Scan(&raw, &out.PricePerNight, &out.MaxGuests)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomAmenities{}, guestErrorf("We don't have any %s rooms.", t)
	}
	if err != nil {
		return RoomAmenities{}, fmt.Errorf("query amenities: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &out.RoomAmenities); err != nil {
		return RoomAmenities{}, fmt.Errorf("decode amenities: %w", err)
	}
	return out, nil
}

// AvailabilityRequest asks which rooms are free for a stay.
type AvailabilityRequest struct {
	CheckIn   string
	CheckOut  string
	RoomType  string
	NumGuests int
}

// RoomOption is one room type free for the requested stay.
type RoomOption struct {
	RoomType       RoomType `json:"room_type"`
	AvailableCount int      `json:"available_count"`
	PricePerNight  int      `json:"price_per_night"`
	TotalPrice     int      `json:"total_price"`
	MaxGuests      int      `json:"max_guests"`
}

// Availability is the answer to an [AvailabilityRequest].
type Availability struct {
	Available           bool         `json:"available"`
	CheckIn             string       `json:"check_in_date"`
	CheckOut            string       `json:"check_out_date"`
	Nights              int          `json:"nights"`
	NumGuests           int          `json:"num_guests,omitempty"`
	RoomOptions         []RoomOption `json:"room_options,omitempty"`
	TotalAvailableRooms int          `json:"total_available_rooms"`
	Message             string       `json:"message,omitempty"`
}

// CheckAvailability reports the room types with at least one room free
// for the whole stay, cheapest first. A booking blocks a room when it
// starts before the requested check-out and ends after the requested
// check-in, so back-to-back stays do not conflict.
func (s *Store) CheckAvailability(ctx context.Context, req AvailabilityRequest) (Availability, error) {
	st, err := s.parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return Availability{}, err
	}
	var t RoomType
	if strings.TrimSpace(req.RoomType) != "" {
		if t, err = ParseRoomType(req.RoomType); err != nil {
			return Availability{}, err
		}
	}
	if err := checkCapacity(t, req.NumGuests); err != nil {
		return Availability{}, err
	}

	query := `
		SELECT r.room_type, COUNT(*), MIN(r.price_per_night), MAX(r.capacity)
		FROM rooms r
		WHERE r.capacity >= ?
		  AND NOT EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.room_number = r.room_number
			  AND b.check_in < ? AND b.check_out > ?
		  )`
	args := []any{req.NumGuests, st.checkOut, st.checkIn}
	if t != "" {
		query += ` AND r.room_type = ?`
		args = append(args, string(t))
	}
	query += ` GROUP BY r.room_type ORDER BY MIN(r.price_per_night)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Availability{}, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()

	out := Availability{
		CheckIn:   st.checkIn,
		CheckOut:  st.checkOut,
		Nights:    st.nights,
		NumGuests: req.NumGuests,
	}
	for rows.Next() {
		var o RoomOption
		var rt string
		if err := rows.Scan(&rt, &o.AvailableCount, &o.PricePerNight, &o.MaxGuests); err != nil {
			return Availability{}, fmt.Errorf("scan availability: %w", err)
		}
		o.RoomType = RoomType(rt)
		o.TotalPrice = o.PricePerNight * st.nights
		out.TotalAvailableRooms += o.AvailableCount
		out.RoomOptions = append(out.RoomOptions, o)
	}
	if err := rows.Err(); err != nil {
		return Availability{}, err
	}

	out.Available = len(out.RoomOptions) > 0
	if !out.Available {
		kind := "rooms"
		if t != "" {
			kind = string(t) + " rooms"
		}
		out.Message = fmt.Sprintf("Sorry, no %s are available from %s to %s.", kind, st.checkIn, st.checkOut)
	}
	return out, nil
}

// NewBooking is a reservation request.
type NewBooking struct {
	GuestName       string
	GuestPhone      string
	GuestEmail      string
	RoomType        string
	CheckIn         string
	CheckOut        string
	NumGuests       int
	SpecialRequests []string
}

// Book reserves the first free room of the requested type.
func (s *Store) Book(ctx context.Context, req NewBooking) (Booking, error) {
	name := strings.TrimSpace(req.GuestName)
	phone := strings.TrimSpace(req.GuestPhone)
	email := strings.ToLower(strings.TrimSpace(req.GuestEmail))
	switch {
	case name == "":
		return Booking{}, guestErrorf("I need the guest's name to make the booking.")
	case phone == "":
		return Booking{}, guestErrorf("I need a phone number to make the booking.")
	case email == "" || !strings.Contains(email, "@"):
		return Booking{}, guestErrorf("I need a valid email address to make the booking.")
	case req.NumGuests < 1:
		return Booking{}, guestErrorf("How many guests will be staying?")
	}
	t, err := ParseRoomType(req.RoomType)
	if err != nil {
		return Booking{}, err
	}
	st, err := s.parseStay(req.CheckIn, req.CheckOut)
	if err != nil {
		return Booking{}, err
	}
	if err := checkCapacity(t, req.NumGuests); err != nil {
		return Booking{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Booking{}, err
	}
	defer tx.Rollback()

	room, err := freeRoom(ctx, tx, t, st, "")
	if err != nil {
		return Booking{}, err
	}

	b := Booking{
		ConfirmationNumber: s.confirmationNumber(),
		GuestName:          name,
		GuestEmail:         email,
		GuestPhone:         phone,
		RoomNumber:         room.Number,
		RoomType:           t,
		Floor:              room.Floor,
		CheckIn:            st.checkIn,
		CheckOut:           st.checkOut,
		NumGuests:          req.NumGuests,
		PricePerNight:      room.PricePerNight,
		TotalPrice:         room.PricePerNight * st.nights,
		Status:             "confirmed",
		SpecialRequests:    cleanRequests(req.SpecialRequests),
	}
	requests, err := json.Marshal(b.SpecialRequests)
	if err != nil {
		return Booking{}, err
	}
	now := s.now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (confirmation_number, guest_name, guest_email, guest_phone, phone_digits,
			room_number, room_type, floor, check_in, check_out, num_guests, price_per_night,
			total_price, status, special_requests, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ConfirmationNumber, b.GuestName, b.GuestEmail, b.GuestPhone, digits(b.GuestPhone),
		b.RoomNumber, string(b.RoomType), b.Floor, b.CheckIn, b.CheckOut, b.NumGuests, b.PricePerNight,
		b.TotalPrice, b.Status, string(requests), now, now,
	)
	if err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Booking{}, fmt.Errorf("commit booking: %w", err)
	}
	return b, nil
}

// confirmationNumber returns a number like GV-2026-4F1A9C.
func (s *Store) confirmationNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("GV-%d-%s", s.now().Year(), id[:6])
}

// freeRoom picks the lowest-numbered room of type t with no booking
// overlapping st, ignoring the booking named by exclude.
func freeRoom(ctx context.Context, tx *sql.Tx, t RoomType, st stay, exclude string) (Room, error) {
	var r Room
	err := tx.QueryRowContext(ctx, `
		SELECT r.room_number, r.floor, r.price_per_night, r.capacity
		FROM rooms r
		WHERE r.room_type = ?
		  AND NOT EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.room_number = r.room_number
			  AND b.check_in < ? AND b.check_out > ?
			  AND b.confirmation_number != ?
		  )
		ORDER BY r.room_number
		LIMIT 1`,
		string(t), st.checkOut, st.checkIn, exclude,
	).Scan(&r.Number, &r.Floor, &r.PricePerNight, &r.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, guestErrorf("Sorry, no %s rooms are available from %s to %s.", t, st.checkIn, st.checkOut)
	}
	if err != nil {
		return Room{}, fmt.Errorf("find free room: %w", err)
	}
	r.Type = t
	return r, nil
}

func cleanRequests(in []string) []string {
	out := []string{}
	for _, r := range in {
		if r = strings.TrimSpace(r); r != "" && !containsFold(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}
