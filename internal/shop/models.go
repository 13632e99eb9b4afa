package shop

import (
	"time"

	"backend-ratemycoffee/internal/hours"
	"backend-ratemycoffee/internal/photo"
	"backend-ratemycoffee/internal/query"
	"backend-ratemycoffee/internal/review"
)

var Statuses = []string{"active", "temporarily_closed", "permanently_closed", "draft", "pending_verification"}

var PriceTiers = []string{"₱", "₱₱", "₱₱₱"}

// Filterable is the listing filter whitelist. Array columns are left out;
// tags has its own containment parameter.
var Filterable = query.Columns{
	"id":                    query.Int,
	"name":                  query.Text,
	"slug":                  query.Text,
	"status":                query.Enum(Statuses...),
	"description":           query.Text,
	"country_code":          query.Text,
	"region":                query.Text,
	"province":              query.Text,
	"city_municipality":     query.Text,
	"barangay":              query.Text,
	"street_address":        query.Text,
	"postcode":              query.Text,
	"latitude":              query.Numeric,
	"longitude":             query.Numeric,
	"phone":                 query.Text,
	"email":                 query.Text,
	"website_url":           query.Text,
	"facebook_url":          query.Text,
	"instagram_handle":      query.Text,
	"google_maps_url":       query.Text,
	"price":                 query.Enum(PriceTiers...),
	"accepts_gcash":         query.Bool,
	"accepts_cards":         query.Bool,
	"has_wifi":              query.Bool,
	"has_outlets":           query.Bool,
	"outdoor_seating":       query.Bool,
	"parking_available":     query.Bool,
	"wheelchair_accessible": query.Bool,
	"pet_friendly":          query.Bool,
	"vegan_options":         query.Bool,
	"manual_brew":           query.Bool,
	"decaf_available":       query.Bool,
	"claimed_by_user_id":    query.Int,
	"claiming_notes":        query.Text,
	"rating_overall_cache":  query.Numeric,
	"rating_count_cache":    query.Int,
	"created_at":            query.Timestamp,
	"updated_at":            query.Timestamp,
}

var SortFields = []string{"created_at", "name", "rating_overall_cache"}

// Shop is a coffee shop row. The rating cache fields are derived from
// published reviews and never taken from clients.
type Shop struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Slug                 string    `json:"slug"`
	Status               string    `json:"status"`
	Description          *string   `json:"description"`
	CountryCode          string    `json:"country_code"`
	Region               *string   `json:"region"`
	Province             *string   `json:"province"`
	CityMunicipality     *string   `json:"city_municipality"`
	Barangay             *string   `json:"barangay"`
	StreetAddress        *string   `json:"street_address"`
	Postcode             *string   `json:"postcode"`
	Latitude             *float64  `json:"latitude"`
	Longitude            *float64  `json:"longitude"`
	Phone                *string   `json:"phone"`
	Email                *string   `json:"email"`
	WebsiteURL           *string   `json:"website_url"`
	FacebookURL          *string   `json:"facebook_url"`
	InstagramHandle      *string   `json:"instagram_handle"`
	GoogleMapsURL        *string   `json:"google_maps_url"`
	Price                *string   `json:"price"`
	AcceptsGcash         bool      `json:"accepts_gcash"`
	AcceptsCards         bool      `json:"accepts_cards"`
	HasWifi              bool      `json:"has_wifi"`
	HasOutlets           bool      `json:"has_outlets"`
	OutdoorSeating       bool      `json:"outdoor_seating"`
	ParkingAvailable     bool      `json:"parking_available"`
	WheelchairAccessible bool      `json:"wheelchair_accessible"`
	PetFriendly          bool      `json:"pet_friendly"`
	VeganOptions         bool      `json:"vegan_options"`
	ManualBrew           bool      `json:"manual_brew"`
	DecafAvailable       bool      `json:"decaf_available"`
	Tags                 []string  `json:"tags"`
	ClaimedByUserID      *int64    `json:"claimed_by_user_id"`
	ClaimingNotes        *string   `json:"claiming_notes"`
	RatingOverallCache   *float64  `json:"rating_overall_cache"`
	RatingCountCache     int       `json:"rating_count_cache"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

var shopColumns = []string{
	"id", "name", "slug", "status", "description", "country_code", "region", "province",
	"city_municipality", "barangay", "street_address", "postcode", "latitude", "longitude",
	"phone", "email", "website_url", "facebook_url", "instagram_handle", "google_maps_url",
	"price", "accepts_gcash", "accepts_cards", "has_wifi", "has_outlets", "outdoor_seating",
	"parking_available", "wheelchair_accessible", "pet_friendly", "vegan_options",
	"manual_brew", "decaf_available", "tags", "claimed_by_user_id", "claiming_notes",
	"rating_overall_cache", "rating_count_cache", "created_at", "updated_at",
}

// dest returns scan targets in shopColumns order.
func (s *Shop) dest() []any {
	return []any{
		&s.ID, &s.Name, &s.Slug, &s.Status, &s.Description, &s.CountryCode, &s.Region, &s.Province,
		&s.CityMunicipality, &s.Barangay, &s.StreetAddress, &s.Postcode, &s.Latitude, &s.Longitude,
		&s.Phone, &s.Email, &s.WebsiteURL, &s.FacebookURL, &s.InstagramHandle, &s.GoogleMapsURL,
		&s.Price, &s.AcceptsGcash, &s.AcceptsCards, &s.HasWifi, &s.HasOutlets, &s.OutdoorSeating,
		&s.ParkingAvailable, &s.WheelchairAccessible, &s.PetFriendly, &s.VeganOptions,
		&s.ManualBrew, &s.DecafAvailable, &s.Tags, &s.ClaimedByUserID, &s.ClaimingNotes,
		&s.RatingOverallCache, &s.RatingCountCache, &s.CreatedAt, &s.UpdatedAt,
	}
}

// writable returns the client-writable columns.
func (s *Shop) writable() map[string]any {
	return map[string]any{
		"name":                  s.Name,
		"slug":                  s.Slug,
		"status":                s.Status,
		"description":           s.Description,
		"country_code":          s.CountryCode,
		"region":                s.Region,
		"province":              s.Province,
		"city_municipality":     s.CityMunicipality,
		"barangay":              s.Barangay,
		"street_address":        s.StreetAddress,
		"postcode":              s.Postcode,
		"latitude":              s.Latitude,
		"longitude":             s.Longitude,
		"phone":                 s.Phone,
		"email":                 s.Email,
		"website_url":           s.WebsiteURL,
		"facebook_url":          s.FacebookURL,
		"instagram_handle":      s.InstagramHandle,
		"google_maps_url":       s.GoogleMapsURL,
		"price":                 s.Price,
		"accepts_gcash":         s.AcceptsGcash,
		"accepts_cards":         s.AcceptsCards,
		"has_wifi":              s.HasWifi,
		"has_outlets":           s.HasOutlets,
		"outdoor_seating":       s.OutdoorSeating,
		"parking_available":     s.ParkingAvailable,
		"wheelchair_accessible": s.WheelchairAccessible,
		"pet_friendly":          s.PetFriendly,
		"vegan_options":         s.VeganOptions,
		"manual_brew":           s.ManualBrew,
		"decaf_available":       s.DecafAvailable,
		"tags":                  s.Tags,
		"claimed_by_user_id":    s.ClaimedByUserID,
		"claiming_notes":        s.ClaimingNotes,
	}
}

// newShop returns a shop carrying the column defaults.
func newShop() Shop {
	return Shop{
		Status:       "active",
		CountryCode:  "PH",
		AcceptsGcash: true,
		AcceptsCards: true,
		HasWifi:      true,
		HasOutlets:   true,
		Tags:         []string{},
	}
}

// ListItem is a shop in a listing with its cover photo, if any.
type ListItem struct {
	Shop
	CoverPhoto *photo.Photo `json:"cover_photo"`
}

type Detail struct {
	Shop
	Hours           []hours.Hour    `json:"hours"`
	Photos          []photo.Photo   `json:"photos"`
	CoverPhoto      *photo.Photo    `json:"cover_photo"`
	Posts           []review.Review `json:"posts"`
	PostsTotal      int64           `json:"posts_total"`
	PostsPagination PostsPagination `json:"posts_pagination"`
}

type PostsPagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
	NextPage    *int  `json:"next_page"`
	PrevPage    *int  `json:"prev_page"`
}

type Location struct {
	CityMunicipality *string `json:"city_municipality"`
	Province         *string `json:"province"`
}

// Input is the create and update payload. On update absent fields are
// left unchanged and an explicit null clears a nullable column.
type Input struct {
	Name                 *string  `json:"name" validate:"omitempty,max=255"`
	Slug                 *string  `json:"slug" validate:"omitempty,max=255"`
	Status               *string  `json:"status" validate:"omitempty,oneof=active temporarily_closed permanently_closed draft pending_verification"`
	Description          *string  `json:"description" validate:"omitempty,max=1024"`
	CountryCode          *string  `json:"country_code" validate:"omitempty,len=2"`
	Region               *string  `json:"region" validate:"omitempty,max=255"`
	Province             *string  `json:"province" validate:"omitempty,max=255"`
	CityMunicipality     *string  `json:"city_municipality" validate:"omitempty,max=255"`
	Barangay             *string  `json:"barangay" validate:"omitempty,max=255"`
	StreetAddress        *string  `json:"street_address" validate:"omitempty,max=1024"`
	Postcode             *string  `json:"postcode" validate:"omitempty,max=20"`
	Latitude             *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude            *float64 `json:"longitude" validate:"omitempty,longitude"`
	Phone                *string  `json:"phone" validate:"omitempty,max=255"`
	Email                *string  `json:"email" validate:"omitempty,email,max=255"`
	WebsiteURL           *string  `json:"website_url" validate:"omitempty,url,max=2048"`
	FacebookURL          *string  `json:"facebook_url" validate:"omitempty,url,max=2048"`
	InstagramHandle      *string  `json:"instagram_handle" validate:"omitempty,max=255"`
	GoogleMapsURL        *string  `json:"google_maps_url" validate:"omitempty,url,max=2048"`
	Price                *string  `json:"price" validate:"omitempty,oneof=₱ ₱₱ ₱₱₱"`
	AcceptsGcash         *bool    `json:"accepts_gcash"`
	AcceptsCards         *bool    `json:"accepts_cards"`
	HasWifi              *bool    `json:"has_wifi"`
	HasOutlets           *bool    `json:"has_outlets"`
	OutdoorSeating       *bool    `json:"outdoor_seating"`
	ParkingAvailable     *bool    `json:"parking_available"`
	WheelchairAccessible *bool    `json:"wheelchair_accessible"`
	PetFriendly          *bool    `json:"pet_friendly"`
	VeganOptions         *bool    `json:"vegan_options"`
	ManualBrew           *bool    `json:"manual_brew"`
	DecafAvailable       *bool    `json:"decaf_available"`
	Tags                 []string `json:"tags" validate:"omitempty,dive,max=64"`
	ClaimedByUserID      *int64   `json:"claimed_by_user_id" validate:"omitempty,gte=1"`
	ClaimingNotes        *string  `json:"claiming_notes"`
}
