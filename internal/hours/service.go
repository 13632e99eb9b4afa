package hours

import (
	"context"

	"backend-ratemycoffee/internal/db"
	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/shared/validate"
)

const allDayOpen = "00:00:00"

const selectHours = `
	SELECT shop_id, day_of_week, to_char(open_time, 'HH24:MI:SS'), to_char(close_time, 'HH24:MI:SS'), is_24h, notes
	FROM shop_hours`

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

// List returns the shop's hours ordered by day then opening time.
func (s *Service) List(ctx context.Context, shopID int64) ([]Hour, error) {
	if err := s.requireShop(ctx, shopID); err != nil {
		return nil, err
	}
	return s.ListByShop(ctx, shopID)
}

// ListByShop is List without the shop existence check.
func (s *Service) ListByShop(ctx context.Context, shopID int64) ([]Hour, error) {
	rows, err := s.db.Query(ctx, selectHours+`
		WHERE shop_id=$1
		ORDER BY day_of_week, open_time
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hours := []Hour{}
	for rows.Next() {
		var h Hour
		if err := rows.Scan(&h.ShopID, &h.DayOfWeek, &h.OpenTime, &h.CloseTime, &h.Is24h, &h.Notes); err != nil {
			return nil, err
		}
		hours = append(hours, h)
	}
	return hours, rows.Err()
}

func (s *Service) Get(ctx context.Context, shopID int64, day int, open string) (Hour, error) {
	open, err := validate.ParseClock(open)
	if err != nil {
		return Hour{}, apperr.NotFound("hour entry not found")
	}
	row := s.db.QueryRow(ctx, selectHours+`
		WHERE shop_id=$1 AND day_of_week=$2 AND open_time=$3
	`, shopID, day, open)
	var h Hour
	if err := row.Scan(&h.ShopID, &h.DayOfWeek, &h.OpenTime, &h.CloseTime, &h.Is24h, &h.Notes); err != nil {
		if db.IsNoRows(err) {
			return Hour{}, apperr.NotFound("hour entry not found")
		}
		return Hour{}, err
	}
	return h, nil
}

func (s *Service) Create(ctx context.Context, shopID int64, in Input) (Hour, error) {
	if err := validate.Struct(in); err != nil {
		return Hour{}, err
	}
	if in.DayOfWeek == nil {
		return Hour{}, apperr.Invalid("day_of_week", "is required")
	}
	h := Hour{ShopID: shopID, DayOfWeek: *in.DayOfWeek, Notes: emptyToNil(in.Notes)}
	if in.Is24h != nil {
		h.Is24h = *in.Is24h
	}
	if err := applyTimes(&h, in.OpenTime, in.CloseTime); err != nil {
		return Hour{}, err
	}
	if err := s.requireShop(ctx, shopID); err != nil {
		return Hour{}, err
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO shop_hours (shop_id, day_of_week, open_time, close_time, is_24h, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, h.ShopID, h.DayOfWeek, h.OpenTime, h.CloseTime, h.Is24h, h.Notes)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Hour{}, apperr.Conflict("an hour entry for this day and opening time already exists")
		}
		return Hour{}, err
	}
	return h, nil
}

// Update rewrites the entry at (shop, day, open); the key itself may change.
func (s *Service) Update(ctx context.Context, shopID int64, day int, open string, in Input) (Hour, error) {
	if err := validate.Struct(in); err != nil {
		return Hour{}, err
	}
	current, err := s.Get(ctx, shopID, day, open)
	if err != nil {
		return Hour{}, err
	}

	next := current
	if in.DayOfWeek != nil {
		next.DayOfWeek = *in.DayOfWeek
	}
	if in.Is24h != nil {
		next.Is24h = *in.Is24h
	}
	if in.Notes != nil {
		next.Notes = emptyToNil(in.Notes)
	}
	openTime, closeTime := in.OpenTime, in.CloseTime
	if openTime == nil && !next.Is24h && !current.Is24h {
		openTime = &current.OpenTime
	}
	if closeTime == nil && !next.Is24h {
		closeTime = current.CloseTime
	}
	if err := applyTimes(&next, openTime, closeTime); err != nil {
		return Hour{}, err
	}

	_, err = s.db.Exec(ctx, `
		UPDATE shop_hours
		SET day_of_week=$4, open_time=$5, close_time=$6, is_24h=$7, notes=$8
		WHERE shop_id=$1 AND day_of_week=$2 AND open_time=$3
	`, shopID, current.DayOfWeek, current.OpenTime, next.DayOfWeek, next.OpenTime, next.CloseTime, next.Is24h, next.Notes)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Hour{}, apperr.Conflict("update would duplicate an existing hour entry")
		}
		return Hour{}, err
	}
	return next, nil
}

func (s *Service) Delete(ctx context.Context, shopID int64, day int, open string) error {
	open, err := validate.ParseClock(open)
	if err != nil {
		return apperr.NotFound("hour entry not found")
	}
	tag, err := s.db.Exec(ctx, `
		DELETE FROM shop_hours WHERE shop_id=$1 AND day_of_week=$2 AND open_time=$3
	`, shopID, day, open)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("hour entry not found")
	}
	return nil
}

func (s *Service) requireShop(ctx context.Context, shopID int64) error {
	ok, err := db.Exists(ctx, s.db, `SELECT 1 FROM coffee_shops WHERE id=$1`, shopID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("coffee shop not found")
	}
	return nil
}

// applyTimes sets canonical times on h. 24h entries ignore the given times.
func applyTimes(h *Hour, openAt, closeAt *string) error {
	if h.Is24h {
		h.OpenTime = allDayOpen
		h.CloseTime = nil
		return nil
	}
	fields := map[string][]string{}
	if openAt == nil || *openAt == "" {
		fields["open_time"] = []string{"is required unless is_24h is true"}
	}
	if closeAt == nil || *closeAt == "" {
		fields["close_time"] = []string{"is required unless is_24h is true"}
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	o, err := validate.ParseClock(*openAt)
	if err != nil {
		return apperr.Invalid("open_time", "must be a time in HH:MM:SS format")
	}
	c, err := validate.ParseClock(*closeAt)
	if err != nil {
		return apperr.Invalid("close_time", "must be a time in HH:MM:SS format")
	}
	h.OpenTime = o
	h.CloseTime = &c
	return nil
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
