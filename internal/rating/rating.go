// Package rating computes review scores and keeps the per-shop rating cache
// equal to the average over the shop's published reviews.
package rating

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"backend-ratemycoffee/internal/db"
	"backend-ratemycoffee/internal/shared/apperr"
)

// Dimensions is the fixed rating vocabulary.
var Dimensions = []string{
	"coffee_quality",
	"vibe",
	"service",
	"value",
	"wifi",
	"noise",
	"seating",
	"outlets",
	"cleanliness",
	"food",
	"location_convenience",
	"consistency",
}

const (
	MinValue = 0.5
	MaxValue = 5.0
)

// Validate checks a rating map before it is written.
func Validate(ratings map[string]float64) error {
	if len(ratings) == 0 {
		return apperr.Invalid("ratings", "must contain at least one rating")
	}
	fields := map[string][]string{}
	for key, v := range ratings {
		field := "ratings." + key
		switch {
		case !slices.Contains(Dimensions, key):
			fields[field] = append(fields[field], "is not a known rating dimension")
		case v < MinValue || v > MaxValue:
			fields[field] = append(fields[field], fmt.Sprintf("must be between %.1f and %.1f", MinValue, MaxValue))
		case v*2 != math.Trunc(v*2):
			fields[field] = append(fields[field], "must be in 0.5 increments")
		}
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// OverallScore is the mean of the present ratings rounded half-up to two
// decimals, or nil for an empty map. Values are summed as half-steps so the
// rounding is exact.
func OverallScore(ratings map[string]float64) *float64 {
	n := int64(len(ratings))
	if n == 0 {
		return nil
	}
	var halves int64
	for _, v := range ratings {
		halves += int64(math.Round(v * 2))
	}
	// mean*100 = halves*50/n; adding n/(2n) rounds half-up.
	hundredths := floorDiv(halves*100+n, 2*n)
	score := float64(hundredths) / 100
	return &score
}

// Aggregate averages two-decimal scores, rounded half-up to two decimals.
func Aggregate(scores []float64) (*float64, int) {
	n := int64(len(scores))
	if n == 0 {
		return nil, 0
	}
	var sum int64
	for _, s := range scores {
		sum += int64(math.Round(s * 100))
	}
	hundredths := floorDiv(2*sum+n, 2*n)
	avg := float64(hundredths) / 100
	return &avg, int(n)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Cache is a shop's derived rating state.
type Cache struct {
	ShopID  int64    `json:"shop_id"`
	Overall *float64 `json:"rating_overall_cache"`
	Count   int      `json:"rating_count_cache"`
}

// RecomputeShopCache rescans the shop's published reviews and writes the
// cache columns back. It must run inside the transaction of the triggering
// write; the shop row stays locked until that transaction ends. The lock
// is FOR NO KEY UPDATE so it does not wait on the key-share locks that
// foreign-key checks of concurrent review inserts hold.
func RecomputeShopCache(ctx context.Context, q db.Querier, shopID int64) (Cache, error) {
	var locked int64
	err := q.QueryRow(ctx, `SELECT id FROM coffee_shops WHERE id=$1 FOR NO KEY UPDATE`, shopID).Scan(&locked)
	if err != nil {
		if db.IsNoRows(err) {
			return Cache{}, apperr.NotFound("coffee shop not found")
		}
		return Cache{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT overall_score
		FROM posts
		WHERE shop_id=$1 AND status='published' AND deleted_at IS NULL AND overall_score IS NOT NULL
	`, shopID)
	if err != nil {
		return Cache{}, err
	}
	var scores []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return Cache{}, err
		}
		scores = append(scores, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Cache{}, err
	}

	avg, count := Aggregate(scores)
	_, err = q.Exec(ctx, `
		UPDATE coffee_shops SET rating_overall_cache=$2, rating_count_cache=$3
		WHERE id=$1
	`, shopID, avg, count)
	if err != nil {
		return Cache{}, err
	}
	return Cache{ShopID: shopID, Overall: avg, Count: count}, nil
}

// RecomputeShops recomputes each distinct shop in ascending id order so
// concurrent writers touching the same pair of shops lock them in the same
// order.
func RecomputeShops(ctx context.Context, q db.Querier, ids ...int64) ([]Cache, error) {
	uniq := slices.Clone(ids)
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	uniq = slices.Compact(uniq)

	caches := make([]Cache, 0, len(uniq))
	for _, id := range uniq {
		c, err := RecomputeShopCache(ctx, q, id)
		if err != nil {
			return nil, err
		}
		caches = append(caches, c)
	}
	return caches, nil
}
