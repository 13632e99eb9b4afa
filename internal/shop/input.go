package shop

import "backend-ratemycoffee/internal/shared/apperr"

// applier copies an Input onto a Shop. On update, present holds the keys
// the client sent so an explicit null can be told apart from an omission.
type applier struct {
	present map[string]bool
	update  bool
	fields  map[string][]string
}

// setValue assigns a NOT NULL column. A null is ignored on create and
// rejected on update.
func setValue[T any](a *applier, key string, dst *T, src *T) {
	if src != nil {
		*dst = *src
		return
	}
	if a.update && a.present[key] {
		a.fields[key] = append(a.fields[key], "may not be null")
	}
}

// setNullable assigns a nullable column; an explicit null clears it.
func setNullable[T any](a *applier, key string, dst **T, src *T) {
	if src != nil || a.present[key] {
		*dst = src
	}
}

func apply(s *Shop, in Input, present map[string]bool, update bool) error {
	a := &applier{present: present, update: update, fields: map[string][]string{}}

	setValue(a, "name", &s.Name, in.Name)
	setValue(a, "status", &s.Status, in.Status)
	setValue(a, "country_code", &s.CountryCode, in.CountryCode)
	setValue(a, "accepts_gcash", &s.AcceptsGcash, in.AcceptsGcash)
	setValue(a, "accepts_cards", &s.AcceptsCards, in.AcceptsCards)
	setValue(a, "has_wifi", &s.HasWifi, in.HasWifi)
	setValue(a, "has_outlets", &s.HasOutlets, in.HasOutlets)
	setValue(a, "outdoor_seating", &s.OutdoorSeating, in.OutdoorSeating)
	setValue(a, "parking_available", &s.ParkingAvailable, in.ParkingAvailable)
	setValue(a, "wheelchair_accessible", &s.WheelchairAccessible, in.WheelchairAccessible)
	setValue(a, "pet_friendly", &s.PetFriendly, in.PetFriendly)
	setValue(a, "vegan_options", &s.VeganOptions, in.VeganOptions)
	setValue(a, "manual_brew", &s.ManualBrew, in.ManualBrew)
	setValue(a, "decaf_available", &s.DecafAvailable, in.DecafAvailable)

	setNullable(a, "description", &s.Description, in.Description)
	setNullable(a, "region", &s.Region, in.Region)
	setNullable(a, "province", &s.Province, in.Province)
	setNullable(a, "city_municipality", &s.CityMunicipality, in.CityMunicipality)
	setNullable(a, "barangay", &s.Barangay, in.Barangay)
	setNullable(a, "street_address", &s.StreetAddress, in.StreetAddress)
	setNullable(a, "postcode", &s.Postcode, in.Postcode)
	setNullable(a, "latitude", &s.Latitude, in.Latitude)
	setNullable(a, "longitude", &s.Longitude, in.Longitude)
	setNullable(a, "phone", &s.Phone, in.Phone)
	setNullable(a, "email", &s.Email, in.Email)
	setNullable(a, "website_url", &s.WebsiteURL, in.WebsiteURL)
	setNullable(a, "facebook_url", &s.FacebookURL, in.FacebookURL)
	setNullable(a, "instagram_handle", &s.InstagramHandle, in.InstagramHandle)
	setNullable(a, "google_maps_url", &s.GoogleMapsURL, in.GoogleMapsURL)
	setNullable(a, "price", &s.Price, in.Price)
	setNullable(a, "claimed_by_user_id", &s.ClaimedByUserID, in.ClaimedByUserID)
	setNullable(a, "claiming_notes", &s.ClaimingNotes, in.ClaimingNotes)

	if in.Tags != nil {
		s.Tags = in.Tags
	} else if a.present["tags"] {
		s.Tags = []string{}
	}

	if len(a.fields) > 0 {
		return apperr.Validation(a.fields)
	}
	return nil
}
