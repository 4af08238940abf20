// Package booking is the hotel reservation collaborator behind the
// concierge's tools: room rates and amenities, availability, and the
// lifecycle of a booking. Data lives in SQLite. Every operation either
// succeeds or returns an error; errors of type [*GuestError] carry a
// message meant to be relayed to the caller, anything else is internal.
package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// GuestError is a failure the guest can act on: a bad date, a full
// hotel, an unknown confirmation number.
type GuestError struct {
	Msg string
}

func (e *GuestError) Error() string { return e.Msg }

func guestErrorf(format string, args ...any) error {
	return &GuestError{Msg: fmt.Sprintf(format, args...)}
}

// IsGuestError reports whether err is a [*GuestError].
func IsGuestError(err error) bool {
	var ge *GuestError
	return errors.As(err, &ge)
}

// RoomType is a class of room.
type RoomType string

const (
	Standard RoomType = "standard"
	Deluxe   RoomType = "deluxe"
	Suite    RoomType = "suite"
)

// RoomTypes lists the room types in price order.
var RoomTypes = []RoomType{Standard, Deluxe, Suite}

// Capacity returns the maximum number of guests for a room type.
func (t RoomType) Capacity() int {
	switch t {
	case Standard:
		return 2
	case Deluxe:
		return 3
	case Suite:
		return 4
	default:
		return 0
	}
}

// ParseRoomType normalizes a spoken or typed room type.
func ParseRoomType(s string) (RoomType, error) {
	t := RoomType(strings.ToLower(strings.TrimSpace(s)))
	t = RoomType(strings.TrimSuffix(string(t), " room"))
	if t.Capacity() == 0 {
		return "", guestErrorf("Unknown room type %q. Please choose standard, deluxe, or suite.", s)
	}
	return t, nil
}

// Room is one bookable room.
type Room struct {
	Number        string   `json:"room_number"`
	Type          RoomType `json:"room_type"`
	Floor         int      `json:"floor"`
	PricePerNight int      `json:"price_per_night"`
	Capacity      int      `json:"capacity"`
	Amenities     []string `json:"amenities"`
}

// Booking is a reservation.
type Booking struct {
	ConfirmationNumber string   `json:"confirmation_number"`
	GuestName          string   `json:"guest_name"`
	GuestEmail         string   `json:"guest_email"`
	GuestPhone         string   `json:"guest_phone"`
	RoomNumber         string   `json:"room_number"`
	RoomType           RoomType `json:"room_type"`
	Floor              int      `json:"floor"`
	CheckIn            string   `json:"check_in_date"`
	CheckOut           string   `json:"check_out_date"`
	NumGuests          int      `json:"num_guests"`
	PricePerNight      int      `json:"price_per_night"`
	TotalPrice         int      `json:"total_price"`
	Status             string   `json:"status"`
	SpecialRequests    []string `json:"special_requests"`
}

// Store persists rooms and bookings in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to reject past dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a booking store, running migrations on first use.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate booking: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS rooms (
			room_number     TEXT PRIMARY KEY,
			room_type       TEXT NOT NULL,
			floor           INTEGER NOT NULL,
			price_per_night INTEGER NOT NULL,
			capacity        INTEGER NOT NULL,
			amenities       TEXT NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS bookings (
			confirmation_number TEXT PRIMARY KEY,
			guest_name          TEXT NOT NULL,
			guest_email         TEXT NOT NULL,
			guest_phone         TEXT NOT NULL,
			phone_digits        TEXT NOT NULL,
			room_number         TEXT NOT NULL REFERENCES rooms(room_number),
			room_type           TEXT NOT NULL,
			floor               INTEGER NOT NULL,
			check_in            TEXT NOT NULL,
			check_out           TEXT NOT NULL,
			num_guests          INTEGER NOT NULL,
			price_per_night     INTEGER NOT NULL,
			total_price         INTEGER NOT NULL,
			status              TEXT NOT NULL,
			special_requests    TEXT NOT NULL DEFAULT '[]',
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bookings_room_dates ON bookings(room_number, check_in, check_out);
		CREATE INDEX IF NOT EXISTS idx_bookings_email ON bookings(guest_email);
	`)
	return err
}

// DefaultRooms is the inventory written by [Store.Seed].
func DefaultRooms() []Room {
	standard := []string{"Queen bed", "Free Wi-Fi", "Flat-screen TV", "Coffee maker", "Work desk"}
	deluxe := []string{"King bed", "Sofa bed", "Free Wi-Fi", "Smart TV", "Mini bar", "City view", "Rain shower"}
	suite := []string{"King bed", "Separate living room", "Two sofa beds", "Free Wi-Fi", "Two smart TVs",
		"Full bar", "Soaking tub", "Skyline balcony", "Club lounge access"}

	var rooms []Room
	for i := 1; i <= 6; i++ {
		rooms = append(rooms, Room{Number: fmt.Sprintf("1%02d", i), Type: Standard, Floor: 1, PricePerNight: 100, Capacity: 2, Amenities: standard})
	}
	for i := 1; i <= 4; i++ {
		rooms = append(rooms, Room{Number: fmt.Sprintf("2%02d", i), Type: Deluxe, Floor: 2, PricePerNight: 150, Capacity: 3, Amenities: deluxe})
	}
	for i := 1; i <= 2; i++ {
		rooms = append(rooms, Room{Number: fmt.Sprintf("3%02d", i), Type: Suite, Floor: 3, PricePerNight: 250, Capacity: 4, Amenities: suite})
	}
	return rooms
}

// Seed inserts rooms that do not already exist and reports how many
// were added.
func (s *Store) Seed(ctx context.Context, rooms []Room) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var added int
	for _, r := range rooms {
		amenities, err := json.Marshal(r.Amenities)
		if err != nil {
			return 0, fmt.Errorf("encode amenities for %s: %w", r.Number, err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO rooms (room_number, room_type, floor, price_per_night, capacity, amenities)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.Number, string(r.Type), r.Floor, r.PricePerNight, r.Capacity, string(amenities),
		)
		if err != nil {
			return 0, fmt.Errorf("seed room %s: %w", r.Number, err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	return added, tx.Commit()
}

// today returns the current local date in DateLayout.
func (s *Store) today() string {
	return s.now().Format(DateLayout)
}

// stay is a validated date range.
type stay struct {
	checkIn, checkOut string
	nights            int
}

func (s *Store) parseStay(checkIn, checkOut string) (stay, error) {
	in, err1 := time.Parse(DateLayout, strings.TrimSpace(checkIn))
	out, err2 := time.Parse(DateLayout, strings.TrimSpace(checkOut))
	if err1 != nil || err2 != nil {
		return stay{}, guestErrorf("Invalid date format. Please use YYYY-MM-DD format.")
	}
	if !out.After(in) {
		return stay{}, guestErrorf("Check-out date must be after check-in date.")
	}
	st := stay{
		checkIn:  in.Format(DateLayout),
		checkOut: out.Format(DateLayout),
		nights:   int(out.Sub(in).Hours() / 24),
	}
	if st.checkIn < s.today() {
		return stay{}, guestErrorf("Check-in date cannot be in the past.")
	}
	return st, nil
}

// checkCapacity validates a party size against an optional room type.
func checkCapacity(t RoomType, guests int) error {
	if guests < 0 {
		return guestErrorf("Number of guests must be positive.")
	}
	if guests > Suite.Capacity() {
		return guestErrorf("No room type can accommodate %d guests. Maximum capacity is %d guests (suite).", guests, Suite.Capacity())
	}
	if t != "" && guests > t.Capacity() {
		return guestErrorf("A %s room can only accommodate %d guests. You need %d.", t, t.Capacity(), guests)
	}
	return nil
}

// digits keeps only the digits of a phone number.
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
