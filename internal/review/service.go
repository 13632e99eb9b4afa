package review

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"

	"backend-ratemycoffee/internal/auth"
	"backend-ratemycoffee/internal/db"
	"backend-ratemycoffee/internal/query"
	"backend-ratemycoffee/internal/rating"
	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/shared/validate"
	"backend-ratemycoffee/internal/stream"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

var reviewColumns = []string{
	"id", "shop_id", "author_user_id", "is_anonymous", "body", "ratings", "overall_score",
	"to_char(visited_at, 'YYYY-MM-DD')", "spend_php", "ordered_items", "taste_profile",
	"seat_context", "internet_speed_mbps", "status", "flagged_count", "admin_notes",
	"created_at", "updated_at",
}

// Publisher receives rating updates after the write that caused them has
// committed.
type Publisher interface {
	Publish(ev stream.Event)
}

type Service struct {
	db            db.TxQuerier
	pub           Publisher
	flagThreshold int
}

func NewService(q db.TxQuerier, pub Publisher, flagThreshold int) *Service {
	return &Service{db: q, pub: pub, flagThreshold: max(flagThreshold, 1)}
}

// ListByShop pages through the shop's reviews, newest first. Soft-deleted
// reviews are never listed; status narrows the listing when set. Drafts
// are listed only to their author and to moderators.
func (s *Service) ListByShop(ctx context.Context, shopID int64, status string, page query.Page, actor auth.Actor) (query.Result[Review], error) {
	if status != "" && !slices.Contains(Statuses, status) {
		return query.Result[Review]{}, apperr.Invalid("status", "must be one of: draft, published, flagged, removed")
	}
	ok, err := db.Exists(ctx, s.db, `SELECT 1 FROM coffee_shops WHERE id=$1`, shopID)
	if err != nil {
		return query.Result[Review]{}, err
	}
	if !ok {
		return query.Result[Review]{}, apperr.NotFound("coffee shop not found")
	}
	var visible sq.Sqlizer
	if !actor.Is(auth.RoleAdmin, auth.RoleModerator) {
		visible = sq.Or{sq.NotEq{"status": StatusDraft}, sq.Eq{"author_user_id": actor.UserID}}
	}
	return s.list(ctx, shopID, status, visible, page)
}

// ListPublished pages through the shop's published reviews, newest first.
func (s *Service) ListPublished(ctx context.Context, shopID int64, page query.Page) (query.Result[Review], error) {
	res, err := s.list(ctx, shopID, StatusPublished, nil, page)
	if err != nil {
		return res, err
	}
	for i := range res.Data {
		res.Data[i] = res.Data[i].ForViewer(auth.Actor{})
	}
	return res, nil
}

func (s *Service) list(ctx context.Context, shopID int64, status string, extra sq.Sqlizer, page query.Page) (query.Result[Review], error) {
	where := sq.And{sq.Eq{"shop_id": shopID}, sq.Expr("deleted_at IS NULL")}
	if status != "" {
		where = append(where, sq.Eq{"status": status})
	}
	if extra != nil {
		where = append(where, extra)
	}

	countSQL, countArgs, err := sq.Select("COUNT(*)").From("posts").Where(where).
		PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return query.Result[Review]{}, err
	}
	var total int64
	if err := s.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return query.Result[Review]{}, err
	}

	listSQL, args, err := sq.Select(reviewColumns...).From("posts").Where(where).
		OrderBy("created_at DESC", "id DESC").
		Limit(page.Limit()).Offset(page.Offset()).
		PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return query.Result[Review]{}, err
	}
	rows, err := s.db.Query(ctx, listSQL, args...)
	if err != nil {
		return query.Result[Review]{}, err
	}
	defer rows.Close()

	reviews := []Review{}
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return query.Result[Review]{}, err
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return query.Result[Review]{}, err
	}
	return query.Result[Review]{Data: reviews, Meta: query.NewMeta(page, total, len(reviews))}, nil
}

// Get returns a review that has not been removed.
func (s *Service) Get(ctx context.Context, id int64) (Review, error) {
	sql, args, err := sq.Select(reviewColumns...).From("posts").
		Where(sq.Eq{"id": id}).Where("deleted_at IS NULL").
		PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return Review{}, err
	}
	r, err := scanReview(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return Review{}, apperr.NotFound("review not found")
		}
		return Review{}, err
	}
	return r, nil
}

// Show is Get for a caller: drafts are hidden from everyone but their
// author and moderators.
func (s *Service) Show(ctx context.Context, id int64, actor auth.Actor) (Review, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return Review{}, err
	}
	if !r.VisibleTo(actor) {
		return Review{}, apperr.NotFound("review not found")
	}
	return r.ForViewer(actor), nil
}

// Create stores a review by actor, anonymous when actor is, and refreshes
// the shop's rating cache in the same transaction.
func (s *Service) Create(ctx context.Context, shopID int64, in Input, client Client, actor auth.Actor) (Review, error) {
	if err := checkInput(in, true); err != nil {
		return Review{}, err
	}

	r := Review{
		ShopID:            shopID,
		Body:              in.Body,
		Ratings:           in.Ratings,
		OverallScore:      rating.OverallScore(in.Ratings),
		VisitedAt:         in.VisitedAt,
		SpendPHP:          in.SpendPHP,
		OrderedItems:      in.OrderedItems,
		TasteProfile:      in.TasteProfile,
		SeatContext:       in.SeatContext,
		InternetSpeedMbps: in.InternetSpeedMbps,
		Status:            StatusPublished,
	}
	if r.OrderedItems == nil {
		r.OrderedItems = []string{}
	}
	if actor.Authenticated() {
		r.AuthorUserID = &actor.UserID
	}
	r.IsAnonymous = r.AuthorUserID == nil
	if in.IsAnonymous != nil && *in.IsAnonymous {
		r.IsAnonymous = true
	}
	if in.Status != nil {
		if *in.Status != StatusDraft && *in.Status != StatusPublished {
			return Review{}, apperr.Invalid("status", "must be draft or published for a new review")
		}
		r.Status = *in.Status
	}

	var caches []rating.Cache
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO posts (shop_id, author_user_id, is_anonymous, body, ratings, overall_score,
				visited_at, spend_php, ordered_items, taste_profile, seat_context, internet_speed_mbps,
				status, ip_hash, user_agent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING id, created_at, updated_at
		`, r.ShopID, r.AuthorUserID, r.IsAnonymous, r.Body, r.Ratings, r.OverallScore,
			r.VisitedAt, r.SpendPHP, r.OrderedItems, r.TasteProfile, r.SeatContext, r.InternetSpeedMbps,
			r.Status, hashIP(client.IP), nilIfEmpty(client.UserAgent),
		).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return err
		}
		caches, err = rating.RecomputeShops(ctx, tx, r.ShopID)
		return err
	})
	if err != nil {
		return Review{}, writeError(err)
	}
	s.publish(caches)
	return r, nil
}

// Update applies a partial update. present holds the keys sent in the
// request body so an explicit null clears a nullable field.
func (s *Service) Update(ctx context.Context, id int64, in Input, present map[string]bool, actor auth.Actor) (Review, error) {
	if err := checkInput(in, present["ratings"]); err != nil {
		return Review{}, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Review{}, err
	}
	moderator := actor.Is(auth.RoleAdmin, auth.RoleModerator)
	if err := authorize(actor, current); err != nil {
		return Review{}, err
	}

	next := current
	if in.ShopID != nil && *in.ShopID != current.ShopID {
		if !actor.Is(auth.RoleAdmin) {
			return Review{}, apperr.Forbidden("only admins may move a review to another shop")
		}
		next.ShopID = *in.ShopID
	}
	if in.AdminNotes != nil || present["admin_notes"] {
		if !moderator {
			return Review{}, apperr.Forbidden("only moderators may edit admin notes")
		}
		next.AdminNotes = in.AdminNotes
	}
	if in.Status != nil && *in.Status != current.Status {
		to := *in.Status
		if (to == StatusFlagged || current.Status == StatusFlagged) && !moderator {
			return Review{}, apperr.Forbidden("only moderators may flag or unflag a review")
		}
		if !CanTransition(current.Status, to) {
			return Review{}, apperr.Invalid("status", fmt.Sprintf("cannot change from %s to %s", current.Status, to))
		}
		next.Status = to
	}
	if in.IsAnonymous != nil {
		next.IsAnonymous = *in.IsAnonymous
	}
	if in.Ratings != nil {
		next.Ratings = in.Ratings
		next.OverallScore = rating.OverallScore(in.Ratings)
	}
	patch(&next.Body, in.Body, present["body"])
	patch(&next.VisitedAt, in.VisitedAt, present["visited_at"])
	patch(&next.SpendPHP, in.SpendPHP, present["spend_php"])
	patch(&next.SeatContext, in.SeatContext, present["seat_context"])
	patch(&next.InternetSpeedMbps, in.InternetSpeedMbps, present["internet_speed_mbps"])
	if in.OrderedItems != nil || present["ordered_items"] {
		next.OrderedItems = in.OrderedItems
		if next.OrderedItems == nil {
			next.OrderedItems = []string{}
		}
	}
	if in.TasteProfile != nil || present["taste_profile"] {
		next.TasteProfile = in.TasteProfile
	}

	var caches []rating.Cache
	err = db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE posts
			SET shop_id=$2, is_anonymous=$3, body=$4, ratings=$5, overall_score=$6, visited_at=$7,
				spend_php=$8, ordered_items=$9, taste_profile=$10, seat_context=$11,
				internet_speed_mbps=$12, status=$13, admin_notes=$14,
				deleted_at=CASE WHEN $15::boolean THEN NOW() ELSE NULL END
			WHERE id=$1
			RETURNING updated_at
		`, id, next.ShopID, next.IsAnonymous, next.Body, next.Ratings, next.OverallScore, next.VisitedAt,
			next.SpendPHP, next.OrderedItems, next.TasteProfile, next.SeatContext,
			next.InternetSpeedMbps, next.Status, next.AdminNotes,
			next.Status == StatusRemoved,
		).Scan(&next.UpdatedAt)
		if err != nil {
			return err
		}
		caches, err = rating.RecomputeShops(ctx, tx, current.ShopID, next.ShopID)
		return err
	})
	if err != nil {
		return Review{}, writeError(err)
	}
	s.publish(caches)
	return next, nil
}

// Delete soft-deletes the review: it becomes removed and leaves every
// listing and aggregate.
func (s *Service) Delete(ctx context.Context, id int64, actor auth.Actor) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current); err != nil {
		return err
	}

	var caches []rating.Cache
	err = db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE posts SET status='removed', deleted_at=NOW()
			WHERE id=$1 AND deleted_at IS NULL
		`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("review not found")
		}
		caches, err = rating.RecomputeShops(ctx, tx, current.ShopID)
		return err
	})
	if err != nil {
		return writeError(err)
	}
	s.publish(caches)
	return nil
}

// Flag records a report against the review. Once the count reaches the
// threshold a published review is moved to flagged.
func (s *Service) Flag(ctx context.Context, id int64, actor auth.Actor) (Review, error) {
	if !actor.Authenticated() {
		return Review{}, apperr.Unauthorized("unauthenticated")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Review{}, err
	}

	var caches []rating.Cache
	err = db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE posts
			SET flagged_count=flagged_count+1,
				status=CASE WHEN status='published' AND flagged_count+1 >= $2 THEN 'flagged'::post_status ELSE status END
			WHERE id=$1 AND deleted_at IS NULL
			RETURNING flagged_count, status, updated_at
		`, id, s.flagThreshold).Scan(&current.FlaggedCount, &current.Status, &current.UpdatedAt)
		if err != nil {
			if db.IsNoRows(err) {
				return apperr.NotFound("review not found")
			}
			return err
		}
		caches, err = rating.RecomputeShops(ctx, tx, current.ShopID)
		return err
	})
	if err != nil {
		return Review{}, writeError(err)
	}
	s.publish(caches)
	return current, nil
}

func (s *Service) publish(caches []rating.Cache) {
	if s.pub == nil {
		return
	}
	for _, c := range caches {
		s.pub.Publish(stream.Event{Type: stream.EventRatingUpdated, ShopID: c.ShopID, Payload: c})
	}
}

func authorize(actor auth.Actor, r Review) error {
	switch {
	case !actor.Authenticated():
		return apperr.Unauthorized("unauthenticated")
	case actor.Is(auth.RoleAdmin, auth.RoleModerator):
		return nil
	case r.AuthorUserID != nil && *r.AuthorUserID == actor.UserID:
		return nil
	}
	return apperr.Forbidden("this action is unauthorized")
}

func checkInput(in Input, requireRatings bool) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if requireRatings || in.Ratings != nil {
		return rating.Validate(in.Ratings)
	}
	return nil
}

func writeError(err error) error {
	switch {
	case db.IsUniqueViolation(err, "posts_unique_user_shop"):
		return apperr.Conflict("you already have an active review for this coffee shop")
	case db.IsForeignKeyViolation(err):
		return apperr.NotFound("coffee shop not found")
	case db.IsRetryable(err):
		return apperr.Conflict("the coffee shop was updated concurrently, try again")
	}
	return err
}

func hashIP(ip string) []byte {
	if ip == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(ip))
	return sum[:]
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// patch sets *dst to src when src is given or the key was sent as null.
func patch[T any](dst **T, src *T, present bool) {
	if src != nil || present {
		*dst = src
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReview(row scanner) (Review, error) {
	var r Review
	err := row.Scan(&r.ID, &r.ShopID, &r.AuthorUserID, &r.IsAnonymous, &r.Body, &r.Ratings, &r.OverallScore,
		&r.VisitedAt, &r.SpendPHP, &r.OrderedItems, &r.TasteProfile, &r.SeatContext, &r.InternetSpeedMbps,
		&r.Status, &r.FlaggedCount, &r.AdminNotes, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}
