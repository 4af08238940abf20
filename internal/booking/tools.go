package booking

import (
	"context"
	"log/slog"

	"github.com/nugget/frontdesk/internal/tools"
)

// readAttempts bounds retries of read-only operations. Writes run once.
const readAttempts = 2

// Tools exposes a Store as language-model tools.
type Tools struct {
	store  *Store
	logger *slog.Logger
}

// NewTools wraps store for registration.
func NewTools(store *Store, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{store: store, logger: logger}
}

// Register adds the booking tools to r.
func (t *Tools) Register(r *tools.Registry) {
	r.Register(&tools.Func{
		ToolName: "get_pricing",
		Desc:     "Get nightly room rates. Omit room_type to list every room type.",
		Params: object(map[string]any{
			"room_type": roomTypeParam("Room type to price"),
		}),
		Handler: t.getPricing,
	})
	r.Register(&tools.Func{
		ToolName: "get_amenities",
		Desc:     "Describe the amenities of a room type and the hotel facilities.",
		Params: object(map[string]any{
			"room_type": roomTypeParam("Room type to describe"),
		}, "room_type"),
		Handler: t.getAmenities,
	})
	r.Register(&tools.Func{
		ToolName: "check_availability",
		Desc:     "Check which rooms are free for a stay. Dates are YYYY-MM-DD.",
		Params: object(map[string]any{
			"check_in_date":  stringParam("Check-in date, YYYY-MM-DD"),
			"check_out_date": stringParam("Check-out date, YYYY-MM-DD"),
			"room_type":      roomTypeParam("Only check this room type"),
			"num_guests":     intParam("Number of guests"),
		}, "check_in_date", "check_out_date"),
		Handler: t.checkAvailability,
	})
	r.Register(&tools.Func{
		ToolName: "lookup_booking",
		Desc:     "Find bookings by confirmation number, email, phone number, or guest name.",
		Params: object(queryParams()),
		Handler:  t.lookupBooking,
	})
	r.Register(&tools.Func{
		ToolName: "book_room",
		Desc:     "Create a booking. Confirm every detail with the guest before calling.",
		Params: object(map[string]any{
			"guest_name":     stringParam("Full name of the guest"),
			"guest_phone":    stringParam("Guest phone number"),
			"guest_email":    stringParam("Guest email address"),
			"room_type":      roomTypeParam("Room type to book"),
			"check_in_date":  stringParam("Check-in date, YYYY-MM-DD"),
			"check_out_date": stringParam("Check-out date, YYYY-MM-DD"),
			"num_guests":     intParam("Number of guests"),
			"special_requests": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional special requests",
			},
		}, "guest_name", "guest_phone", "guest_email", "room_type", "check_in_date", "check_out_date", "num_guests"),
		Handler: t.bookRoom,
	})
	r.Register(&tools.Func{
		ToolName: "update_booking",
		Desc:     "Change the dates, room type, or number of guests of an existing booking.",
		Params: object(map[string]any{
			"confirmation_number": stringParam("Booking confirmation number"),
			"guest_name":          stringParam("Guest name on the booking"),
			"guest_email":         stringParam("Guest email on the booking"),
			"new_check_in_date":   stringParam("New check-in date, YYYY-MM-DD"),
			"new_check_out_date":  stringParam("New check-out date, YYYY-MM-DD"),
			"new_room_type":       roomTypeParam("New room type"),
			"new_num_guests":      intParam("New number of guests"),
		}),
		Handler: t.updateBooking,
	})
	r.Register(&tools.Func{
		ToolName: "cancel_booking",
		Desc:     "Cancel a booking. Confirm with the guest before calling.",
		Params: object(map[string]any{
			"confirmation_number": stringParam("Booking confirmation number"),
			"guest_name":          stringParam("Guest name on the booking"),
			"guest_email":         stringParam("Guest email on the booking"),
		}),
		Handler: t.cancelBooking,
	})
	r.Register(&tools.Func{
		ToolName: "add_special_request",
		Desc:     "Add a special request, such as late check-in or a crib, to a booking.",
		Params: object(map[string]any{
			"confirmation_number": stringParam("Booking confirmation number"),
			"guest_name":          stringParam("Guest name on the booking"),
			"guest_email":         stringParam("Guest email on the booking"),
			"request":             stringParam("The request to add"),
		}, "request"),
		Handler: t.addSpecialRequest,
	})
}

func (t *Tools) getPricing(ctx context.Context, args map[string]any) (tools.Result, error) {
	return t.read(ctx, "get_pricing", func() (any, error) {
		rates, err := t.store.Pricing(ctx, tools.StringArg(args, "room_type"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"rates": rates, "currency": "USD"}, nil
	})
}

func (t *Tools) getAmenities(ctx context.Context, args map[string]any) (tools.Result, error) {
	return t.read(ctx, "get_amenities", func() (any, error) {
		return t.store.Amenities(ctx, tools.StringArg(args, "room_type"))
	})
}

func (t *Tools) checkAvailability(ctx context.Context, args map[string]any) (tools.Result, error) {
	guests, _, err := tools.IntArg(args, "num_guests")
	if err != nil {
		return tools.Failure(err.Error()), nil
	}
	if guests == 0 {
		guests = 1
	}
	return t.read(ctx, "check_availability", func() (any, error) {
		return t.store.CheckAvailability(ctx, AvailabilityRequest{
			CheckIn:   tools.StringArg(args, "check_in_date"),
			CheckOut:  tools.StringArg(args, "check_out_date"),
			RoomType:  tools.StringArg(args, "room_type"),
			NumGuests: guests,
		})
	})
}

func (t *Tools) lookupBooking(ctx context.Context, args map[string]any) (tools.Result, error) {
	return t.read(ctx, "lookup_booking", func() (any, error) {
		found, err := t.store.Lookup(ctx, queryArgs(args))
		if err != nil {
			return nil, err
		}
		if len(found) == 1 {
			return map[string]any{"found": true, "booking": found[0]}, nil
		}
		return map[string]any{"found": true, "count": len(found), "bookings": found}, nil
	})
}

func (t *Tools) bookRoom(ctx context.Context, args map[string]any) (tools.Result, error) {
	guests, _, err := tools.IntArg(args, "num_guests")
	if err != nil {
		return tools.Failure(err.Error()), nil
	}
	return t.write(ctx, "book_room", func() (any, error) {
		b, err := t.store.Book(ctx, NewBooking{
			GuestName:       tools.StringArg(args, "guest_name"),
			GuestPhone:      tools.StringArg(args, "guest_phone"),
			GuestEmail:      tools.StringArg(args, "guest_email"),
			RoomType:        tools.StringArg(args, "room_type"),
			CheckIn:         tools.StringArg(args, "check_in_date"),
			CheckOut:        tools.StringArg(args, "check_out_date"),
			NumGuests:       guests,
			SpecialRequests: stringList(args["special_requests"]),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"booking": b, "message": "Booking confirmed."}, nil
	})
}

func (t *Tools) updateBooking(ctx context.Context, args map[string]any) (tools.Result, error) {
	guests, _, err := tools.IntArg(args, "new_num_guests")
	if err != nil {
		return tools.Failure(err.Error()), nil
	}
	return t.write(ctx, "update_booking", func() (any, error) {
		b, err := t.store.Update(ctx, queryArgs(args), Change{
			CheckIn:   tools.StringArg(args, "new_check_in_date"),
			CheckOut:  tools.StringArg(args, "new_check_out_date"),
			RoomType:  tools.StringArg(args, "new_room_type"),
			NumGuests: guests,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"booking": b, "message": "Booking updated."}, nil
	})
}

func (t *Tools) cancelBooking(ctx context.Context, args map[string]any) (tools.Result, error) {
	return t.write(ctx, "cancel_booking", func() (any, error) {
		b, err := t.store.Cancel(ctx, queryArgs(args))
		if err != nil {
			return nil, err
		}
		return map[string]any{"cancelled_booking": b, "message": "Booking cancelled."}, nil
	})
}

func (t *Tools) addSpecialRequest(ctx context.Context, args map[string]any) (tools.Result, error) {
	return t.write(ctx, "add_special_request", func() (any, error) {
		res, err := t.store.AddSpecialRequest(ctx, queryArgs(args), tools.StringArg(args, "request"))
		if err != nil {
			return nil, err
		}
		msg := "Special request added."
		if !res.Added {
			msg = "That request is already noted on the booking."
		}
		return map[string]any{
			"confirmation_number": res.Booking.ConfirmationNumber,
			"all_requests":        res.Booking.SpecialRequests,
			"message":             msg,
		}, nil
	})
}

// read runs a read-only operation, retrying internal failures once.
// Guest errors are answers, not failures, and are never retried.
func (t *Tools) read(ctx context.Context, name string, op func() (any, error)) (tools.Result, error) {
	var err error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		var data any
		data, err = op()
		if err == nil {
			return tools.Success(data), nil
		}
		if IsGuestError(err) || ctx.Err() != nil {
			break
		}
		t.logger.Warn("booking read failed", "tool", name, "attempt", attempt, "error", err)
	}
	return t.result(name, nil, err)
}

// write runs a mutating operation exactly once.
func (t *Tools) write(_ context.Context, name string, op func() (any, error)) (tools.Result, error) {
	data, err := op()
	return t.result(name, data, err)
}

func (t *Tools) result(name string, data any, err error) (tools.Result, error) {
	if err == nil {
		return tools.Success(data), nil
	}
	if IsGuestError(err) {
		t.logger.Debug("booking request refused", "tool", name, "reason", err)
		return tools.Failure(err.Error()), nil
	}
	t.logger.Error("booking operation failed", "tool", name, "error", err)
	return tools.Failure("The reservation system is having trouble right now. Please try again in a moment."), err
}

func queryArgs(args map[string]any) Query {
	return Query{
		ConfirmationNumber: tools.StringArg(args, "confirmation_number"),
		Email:              tools.StringArg(args, "guest_email"),
		Phone:              tools.StringArg(args, "guest_phone"),
		Name:               tools.StringArg(args, "guest_name"),
	}
}

func queryParams() map[string]any {
	return map[string]any{
		"confirmation_number": stringParam("Booking confirmation number, e.g. GV-2026-4F1A9C"),
		"guest_email":         stringParam("Guest email address"),
		"guest_phone":         stringParam("Guest phone number"),
		"guest_name":          stringParam("Guest name, full or partial"),
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list != "" {
			return []string{list}
		}
	}
	return nil
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringParam(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intParam(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func roomTypeParam(desc string) map[string]any {
	return map[string]any{
		"type":        "string",
		"enum":        []string{string(Standard), string(Deluxe), string(Suite)},
		"description": desc,
	}
}
