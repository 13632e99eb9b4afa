package hours

// Hour is one opening window of a shop on a weekday (0 = Sunday). A 24h
// window is stored as open 00:00:00 with no close time.
type Hour struct {
	ShopID    int64   `json:"shop_id"`
	DayOfWeek int     `json:"day_of_week"`
	OpenTime  string  `json:"open_time"`
	CloseTime *string `json:"close_time"`
	Is24h     bool    `json:"is_24h"`
	Notes     *string `json:"notes"`
}

// Input is the create and update payload. On update nil fields are left
// unchanged; an empty notes string clears the notes.
type Input struct {
	DayOfWeek *int    `json:"day_of_week" validate:"omitempty,gte=0,lte=6"`
	Is24h     *bool   `json:"is_24h"`
	OpenTime  *string `json:"open_time" validate:"omitempty,clock"`
	CloseTime *string `json:"close_time" validate:"omitempty,clock"`
	Notes     *string `json:"notes" validate:"omitempty,max=1024"`
}
