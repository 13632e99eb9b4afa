package photo

import (
	"io"
	"time"
)

const MaxUploadSize = 5 << 20

type Photo struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	PostID    *int64    `json:"post_id"`
	URL       string    `json:"url"`
	Caption   *string   `json:"caption"`
	IsCover   bool      `json:"is_cover"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// Upload is an image file received from a client.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// Input is the create and update payload. On update nil fields are left
// unchanged and an empty caption clears it.
type Input struct {
	Caption   *string `json:"caption" validate:"omitempty,max=1024"`
	IsCover   *bool   `json:"is_cover"`
	SortOrder *int    `json:"sort_order" validate:"omitempty,gte=0"`
	PostID    *int64  `json:"post_id" validate:"omitempty,gte=1"`
	File      *Upload `json:"-"`
}
