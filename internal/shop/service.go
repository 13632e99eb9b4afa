package shop

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"backend-ratemycoffee/internal/db"
	"backend-ratemycoffee/internal/hours"
	"backend-ratemycoffee/internal/photo"
	"backend-ratemycoffee/internal/query"
	"backend-ratemycoffee/internal/review"
	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/shared/validate"

	sq "github.com/Masterminds/squirrel"
	"github.com/gosimple/slug"
)

const (
	maxSlugLen      = 255
	slugBaseLen     = 240
	maxSlugAttempts = 5
	fallbackSlug    = "coffee-shop"
)

const coverJoin = `LEFT JOIN LATERAL (
	SELECT id, post_id, url, caption, is_cover, sort_order, created_at
	FROM shop_photos sp
	WHERE sp.shop_id = cs.id AND sp.is_cover
	ORDER BY sp.sort_order, sp.id
	LIMIT 1
) cp ON TRUE`

var coverColumns = []string{"cp.id", "cp.post_id", "cp.url", "cp.caption", "cp.is_cover", "cp.sort_order", "cp.created_at"}

type HoursLister interface {
	ListByShop(ctx context.Context, shopID int64) ([]hours.Hour, error)
}

type PhotoLister interface {
	ListByShop(ctx context.Context, shopID int64) ([]photo.Photo, error)
	DeleteObjects(ctx context.Context, urls []string)
}

type ReviewLister interface {
	ListPublished(ctx context.Context, shopID int64, page query.Page) (query.Result[review.Review], error)
}

type Service struct {
	db      db.Querier
	hours   HoursLister
	photos  PhotoLister
	reviews ReviewLister
}

func NewService(q db.Querier, h HoursLister, p PhotoLister, r ReviewLister) *Service {
	return &Service{db: q, hours: h, photos: p, reviews: r}
}

// List applies the whitelisted filters, free-text search and tag
// containment in params, then sorts and paginates.
func (s *Service) List(ctx context.Context, params url.Values) (query.Result[ListItem], error) {
	preds := query.Compile(params, Filterable, "tags")
	tags := query.Tags(params, "tags")
	filter := func(b sq.SelectBuilder) sq.SelectBuilder {
		b = query.Apply(b, preds, "cs")
		if cond := query.Search(params.Get("q"), "cs.name", "cs.city_municipality", "cs.province"); cond != nil {
			b = b.Where(cond)
		}
		if cond := query.TagsContain("cs.tags", tags); cond != nil {
			b = b.Where(cond)
		}
		return b.PlaceholderFormat(sq.Dollar)
	}
	page := query.ParsePage(params.Get("page"), params.Get("per_page"), query.DefaultPerPage, query.MaxPerPage)
	order := query.ParseSort(params.Get("sort"), params.Get("dir"), SortFields, "created_at")

	countSQL, countArgs, err := filter(sq.Select("COUNT(*)").From("coffee_shops cs")).ToSql()
	if err != nil {
		return query.Result[ListItem]{}, err
	}
	var total int64
	if err := s.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return query.Result[ListItem]{}, err
	}

	cols := make([]string, 0, len(shopColumns)+len(coverColumns))
	for _, c := range shopColumns {
		cols = append(cols, "cs."+c)
	}
	cols = append(cols, coverColumns...)
	listSQL, args, err := filter(sq.Select(cols...).From("coffee_shops cs").JoinClause(coverJoin)).
		OrderBy(order.OrderBy("cs")...).
		Limit(page.Limit()).Offset(page.Offset()).
		ToSql()
	if err != nil {
		return query.Result[ListItem]{}, err
	}
	rows, err := s.db.Query(ctx, listSQL, args...)
	if err != nil {
		return query.Result[ListItem]{}, err
	}
	defer rows.Close()

	items := []ListItem{}
	for rows.Next() {
		var item ListItem
		var cover coverRow
		if err := rows.Scan(append(item.dest(), cover.dest()...)...); err != nil {
			return query.Result[ListItem]{}, err
		}
		item.CoverPhoto = cover.photo(item.ID)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return query.Result[ListItem]{}, err
	}
	return query.Result[ListItem]{Data: items, Meta: query.NewMeta(page, total, len(items))}, nil
}

// Detail looks the shop up by id when identifier is numeric, else by
// slug, and loads its hours, photos and one page of published reviews.
func (s *Service) Detail(ctx context.Context, identifier string, postsPage query.Page) (Detail, error) {
	shop, err := s.find(ctx, identifier)
	if err != nil {
		return Detail{}, err
	}
	h, err := s.hours.ListByShop(ctx, shop.ID)
	if err != nil {
		return Detail{}, err
	}
	photos, err := s.photos.ListByShop(ctx, shop.ID)
	if err != nil {
		return Detail{}, err
	}
	posts, err := s.reviews.ListPublished(ctx, shop.ID, postsPage)
	if err != nil {
		return Detail{}, err
	}

	d := Detail{
		Shop:            shop,
		Hours:           h,
		Photos:          photos,
		Posts:           posts.Data,
		PostsTotal:      posts.Total,
		PostsPagination: paginationOf(posts.Meta),
	}
	for i := range photos {
		if photos[i].IsCover {
			d.CoverPhoto = &photos[i]
			break
		}
	}
	return d, nil
}

// Locations lists the distinct (city, province) pairs in use.
func (s *Service) Locations(ctx context.Context, includeEmpty bool, q string) ([]Location, error) {
	b := sq.Select("city_municipality", "province").Distinct().From("coffee_shops")
	if !includeEmpty {
		b = b.Where("city_municipality IS NOT NULL AND city_municipality <> '' AND province IS NOT NULL AND province <> ''")
	}
	if cond := query.Search(q, "city_municipality", "province"); cond != nil {
		b = b.Where(cond)
	}
	sql, args, err := b.OrderBy("province", "city_municipality").PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := []Location{}
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.CityMunicipality, &l.Province); err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (s *Service) Create(ctx context.Context, in Input) (Shop, error) {
	if err := validate.Struct(in); err != nil {
		return Shop{}, err
	}
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return Shop{}, apperr.Invalid("name", "is required")
	}
	shop := newShop()
	if err := apply(&shop, in, nil, false); err != nil {
		return Shop{}, err
	}

	err := s.withUniqueSlug(ctx, slugBase(in.Slug, shop.Name), 0, &shop, func() error {
		sql, args, err := sq.Insert("coffee_shops").SetMap(shop.writable()).
			Suffix("RETURNING id, rating_overall_cache, rating_count_cache, created_at, updated_at").
			PlaceholderFormat(sq.Dollar).ToSql()
		if err != nil {
			return err
		}
		return s.db.QueryRow(ctx, sql, args...).
			Scan(&shop.ID, &shop.RatingOverallCache, &shop.RatingCountCache, &shop.CreatedAt, &shop.UpdatedAt)
	})
	if err != nil {
		return Shop{}, writeError(err)
	}
	return shop, nil
}

// Update applies a partial update. present holds the keys sent in the
// request body; a null or empty slug is regenerated from the name.
func (s *Service) Update(ctx context.Context, id int64, in Input, present map[string]bool) (Shop, error) {
	if err := validate.Struct(in); err != nil {
		return Shop{}, err
	}
	current, err := s.getBy(ctx, "id", id)
	if err != nil {
		return Shop{}, err
	}
	next := current
	if err := apply(&next, in, present, true); err != nil {
		return Shop{}, err
	}
	if strings.TrimSpace(next.Name) == "" {
		return Shop{}, apperr.Invalid("name", "is required")
	}

	write := func() error {
		sql, args, err := sq.Update("coffee_shops").SetMap(next.writable()).Where(sq.Eq{"id": id}).
			Suffix("RETURNING rating_overall_cache, rating_count_cache, updated_at").
			PlaceholderFormat(sq.Dollar).ToSql()
		if err != nil {
			return err
		}
		return s.db.QueryRow(ctx, sql, args...).
			Scan(&next.RatingOverallCache, &next.RatingCountCache, &next.UpdatedAt)
	}
	if in.Slug != nil || present["slug"] {
		err = s.withUniqueSlug(ctx, slugBase(in.Slug, next.Name), id, &next, write)
	} else {
		err = write()
	}
	if err != nil {
		return Shop{}, writeError(err)
	}
	return next, nil
}

// Delete removes the shop with its hours, photos and reviews, then the
// stored photo objects.
func (s *Service) Delete(ctx context.Context, id int64) error {
	photos, err := s.photos.ListByShop(ctx, id)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM coffee_shops WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("coffee shop not found")
	}
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.URL)
	}
	s.photos.DeleteObjects(ctx, urls)
	return nil
}

// EnsureUniqueSlug returns base, or base with the lowest free -N suffix,
// ignoring the shop excludeID.
func (s *Service) EnsureUniqueSlug(ctx context.Context, base string, excludeID int64) (string, error) {
	candidate, _, err := s.freeSlug(ctx, base, excludeID, 1)
	return candidate, err
}

func (s *Service) freeSlug(ctx context.Context, base string, excludeID int64, from int) (string, int, error) {
	for n := from; ; n++ {
		candidate := slugCandidate(base, n)
		taken, err := db.Exists(ctx, s.db, `SELECT 1 FROM coffee_shops WHERE slug=$1 AND id<>$2`, candidate, excludeID)
		if err != nil {
			return "", 0, err
		}
		if !taken {
			return candidate, n, nil
		}
	}
}

// withUniqueSlug runs write with a free slug, moving to the next suffix
// when a concurrent writer claims the slug first.
func (s *Service) withUniqueSlug(ctx context.Context, base string, excludeID int64, shop *Shop, write func() error) error {
	n := 1
	for i := 0; i < maxSlugAttempts; i++ {
		candidate, used, err := s.freeSlug(ctx, base, excludeID, n)
		if err != nil {
			return err
		}
		shop.Slug = candidate
		err = write()
		if !db.IsUniqueViolation(err, "coffee_shops_slug_key") {
			return err
		}
		n = used + 1
	}
	return apperr.Conflict("could not allocate a unique slug")
}

func (s *Service) find(ctx context.Context, identifier string) (Shop, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil && id > 0 {
		shop, err := s.getBy(ctx, "id", id)
		if apperr.KindOf(err) != apperr.KindNotFound {
			return shop, err
		}
	}
	return s.getBy(ctx, "slug", identifier)
}

func (s *Service) getBy(ctx context.Context, column string, value any) (Shop, error) {
	sql, args, err := sq.Select(shopColumns...).From("coffee_shops").Where(sq.Eq{column: value}).
		PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return Shop{}, err
	}
	var shop Shop
	if err := s.db.QueryRow(ctx, sql, args...).Scan(shop.dest()...); err != nil {
		if db.IsNoRows(err) {
			return Shop{}, apperr.NotFound("coffee shop not found")
		}
		return Shop{}, err
	}
	return shop, nil
}

func slugBase(requested *string, name string) string {
	src := name
	if requested != nil && strings.TrimSpace(*requested) != "" {
		src = *requested
	}
	base := slug.Make(src)
	if base == "" {
		base = fallbackSlug
	}
	if len(base) > maxSlugLen {
		base = strings.TrimRight(base[:maxSlugLen], "-")
	}
	return base
}

func slugCandidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	if len(base) > slugBaseLen {
		base = strings.TrimRight(base[:slugBaseLen], "-")
	}
	return base + "-" + strconv.Itoa(n)
}

func paginationOf(m query.Meta) PostsPagination {
	p := PostsPagination{CurrentPage: m.CurrentPage, PerPage: m.PerPage, Total: m.Total, LastPage: m.LastPage}
	if m.CurrentPage < m.LastPage {
		next := m.CurrentPage + 1
		p.NextPage = &next
	}
	if m.CurrentPage > 1 {
		prev := m.CurrentPage - 1
		p.PrevPage = &prev
	}
	return p
}

func writeError(err error) error {
	switch {
	case db.IsNoRows(err):
		return apperr.NotFound("coffee shop not found")
	case db.IsUniqueViolation(err, "coffee_shops_unique_name_city_prov"):
		return apperr.Conflict("a coffee shop with this name already exists in this city and province")
	case db.IsUniqueViolation(err, "coffee_shops_slug_key"):
		return apperr.Conflict("slug is already taken")
	case db.IsForeignKeyViolation(err):
		return apperr.Invalid("claimed_by_user_id", "is invalid")
	case db.IsRetryable(err):
		return apperr.Conflict("the coffee shop was updated concurrently, try again")
	}
	return err
}

// coverRow holds the nullable cover photo columns of a listing row.
type coverRow struct {
	id        *int64
	postID    *int64
	url       *string
	caption   *string
	isCover   *bool
	sortOrder *int
	createdAt *time.Time
}

func (c *coverRow) dest() []any {
	return []any{&c.id, &c.postID, &c.url, &c.caption, &c.isCover, &c.sortOrder, &c.createdAt}
}

func (c coverRow) photo(shopID int64) *photo.Photo {
	if c.id == nil {
		return nil
	}
	p := &photo.Photo{ID: *c.id, ShopID: shopID, PostID: c.postID, Caption: c.caption, IsCover: true}
	if c.url != nil {
		p.URL = *c.url
	}
	if c.sortOrder != nil {
		p.SortOrder = *c.sortOrder
	}
	if c.createdAt != nil {
		p.CreatedAt = *c.createdAt
	}
	return p
}
