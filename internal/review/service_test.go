package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-ratemycoffee/internal/auth"
	"backend-ratemycoffee/internal/query"
	"backend-ratemycoffee/internal/rating"
	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/stream"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
)

var (
	admin     = auth.Actor{UserID: 1, Role: auth.RoleAdmin}
	moderator = auth.Actor{UserID: 2, Role: auth.RoleModerator}
	author    = auth.Actor{UserID: 3, Role: auth.RoleUser}
	stranger  = auth.Actor{UserID: 4, Role: auth.RoleUser}
)

var columns = []string{
	"id", "shop_id", "author_user_id", "is_anonymous", "body", "ratings", "overall_score",
	"visited_at", "spend_php", "ordered_items", "taste_profile", "seat_context",
	"internet_speed_mbps", "status", "flagged_count", "admin_notes", "created_at", "updated_at",
}

type recorder struct {
	events []stream.Event
}

func (r *recorder) Publish(ev stream.Event) { r.events = append(r.events, ev) }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func str(v string) *string   { return &v }

func reviewRow(id, shopID int64, authorID *int64, status string) []any {
	now := time.Now()
	return []any{
		id, shopID, authorID, false, str("great"), map[string]float64{"vibe": 4}, f64(4),
		nil, nil, []string{}, nil, nil,
		nil, status, 0, str("watch this"), now, now,
	}
}

func expectGet(mock pgxmock.PgxPoolIface, id int64, row []any) {
	mock.ExpectQuery(`SELECT id, shop_id, author_user_id, .+ FROM posts WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(row...))
}

func expectRecompute(mock pgxmock.PgxPoolIface, shopID int64, scores ...float64) {
	mock.ExpectQuery(`SELECT id FROM coffee_shops WHERE id=\$1 FOR NO KEY UPDATE`).
		WithArgs(shopID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(shopID))
	rows := pgxmock.NewRows([]string{"overall_score"})
	for _, s := range scores {
		rows.AddRow(s)
	}
	mock.ExpectQuery(`SELECT overall_score\s+FROM posts`).WithArgs(shopID).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE coffee_shops SET rating_overall_cache=\$2, rating_count_cache=\$3`).
		WithArgs(shopID, pgxmock.AnyArg(), len(scores)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func TestCreateReviewRefreshesCache(t *testing.T) {
	mock := newMock(t)
	pub := &recorder{}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO posts`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(20), now, now))
	expectRecompute(mock, 5, 4.0, 3.5)
	mock.ExpectCommit()

	in := Input{Ratings: map[string]float64{"coffee_quality": 4.5, "service": 3.5}}
	r, err := NewService(mock, pub, 3).Create(context.Background(), 5, in, Client{IP: "10.0.0.1", UserAgent: "test"}, author)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.OverallScore == nil || *r.OverallScore != 4.0 {
		t.Fatalf("expected overall 4.0, got %v", r.OverallScore)
	}
	if r.AuthorUserID == nil || *r.AuthorUserID != author.UserID || r.IsAnonymous || r.Status != StatusPublished {
		t.Fatalf("unexpected review %+v", r)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	cache := pub.events[0].Payload.(rating.Cache)
	if cache.Count != 2 || cache.Overall == nil || *cache.Overall != 3.75 {
		t.Fatalf("unexpected cache %+v", cache)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAnonymousReview(t *testing.T) {
	mock := newMock(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO posts`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(21), now, now))
	expectRecompute(mock, 5, 3.0)
	mock.ExpectCommit()

	r, err := NewService(mock, nil, 3).Create(context.Background(), 5,
		Input{Ratings: map[string]float64{"vibe": 3}}, Client{}, auth.Actor{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.AuthorUserID != nil || !r.IsAnonymous {
		t.Fatalf("expected anonymous review, got %+v", r)
	}
}

func TestCreateDuplicateReviewConflicts(t *testing.T) {
	mock := newMock(t)
	pub := &recorder{}
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO posts`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "posts_unique_user_shop"})
	mock.ExpectRollback()

	_, err := NewService(mock, pub, 3).Create(context.Background(), 5,
		Input{Ratings: map[string]float64{"vibe": 3}}, Client{}, author)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("nothing should be published for a failed write")
	}
}

func TestCreateReviewValidation(t *testing.T) {
	svc := NewService(newMock(t), nil, 3)
	cases := map[string]Input{
		"no ratings":     {},
		"off step":       {Ratings: map[string]float64{"vibe": 4.3}},
		"unknown key":    {Ratings: map[string]float64{"latte_art": 4}},
		"negative spend": {Ratings: map[string]float64{"vibe": 4}, SpendPHP: f64(-1)},
		"bad date":       {Ratings: map[string]float64{"vibe": 4}, VisitedAt: str("03/09/2025")},
		"flagged status": {Ratings: map[string]float64{"vibe": 4}, Status: str(StatusFlagged)},
	}
	for name, in := range cases {
		if _, err := svc.Create(context.Background(), 5, in, Client{}, author); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestCreateReviewRatingStepField(t *testing.T) {
	svc := NewService(newMock(t), nil, 3)
	_, err := svc.Create(context.Background(), 5, Input{Ratings: map[string]float64{"vibe": 4.3, "service": 6}}, Client{}, author)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := appErr.Fields["ratings.vibe"]; len(got) != 1 || got[0] != "must be in 0.5 increments" {
		t.Fatalf("unexpected vibe messages %v", got)
	}
	if got := appErr.Fields["ratings.service"]; len(got) != 1 || got[0] != "must be less than or equal to 5" {
		t.Fatalf("unexpected service messages %v", got)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]string{
		{StatusDraft, StatusPublished}, {StatusDraft, StatusRemoved},
		{StatusPublished, StatusDraft}, {StatusPublished, StatusFlagged}, {StatusPublished, StatusRemoved},
		{StatusFlagged, StatusPublished}, {StatusFlagged, StatusRemoved},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s allowed", tr[0], tr[1])
		}
	}
	denied := [][2]string{
		{StatusDraft, StatusFlagged}, {StatusFlagged, StatusDraft},
		{StatusRemoved, StatusPublished}, {StatusRemoved, StatusDraft},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s denied", tr[0], tr[1])
		}
	}
}

func TestUpdateAuthorization(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock, nil, 3)

	expectGet(mock, 20, reviewRow(20, 5, i64(author.UserID), StatusPublished))
	if _, err := svc.Update(context.Background(), 20, Input{Body: str("mine now")}, nil, stranger); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for a stranger, got %v", err)
	}

	expectGet(mock, 20, reviewRow(20, 5, i64(author.UserID), StatusPublished))
	if _, err := svc.Update(context.Background(), 20, Input{Status: str(StatusFlagged)}, nil, author); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden when an author flags, got %v", err)
	}

	expectGet(mock, 20, reviewRow(20, 5, i64(author.UserID), StatusPublished))
	if _, err := svc.Update(context.Background(), 20, Input{ShopID: i64(6)}, nil, moderator); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden when a moderator moves a review, got %v", err)
	}

	expectGet(mock, 20, reviewRow(20, 5, i64(author.UserID), StatusDraft))
	if _, err := svc.Update(context.Background(), 20, Input{Status: str(StatusFlagged)}, nil, moderator); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestUpdateMovesReviewBetweenShops(t *testing.T) {
	mock := newMock(t)
	pub := &recorder{}

	expectGet(mock, 20, reviewRow(20, 7, i64(author.UserID), StatusPublished))
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE posts\s+SET shop_id=\$2`).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	expectRecompute(mock, 5, 4.0)
	expectRecompute(mock, 7)
	mock.ExpectCommit()

	r, err := NewService(mock, pub, 3).Update(context.Background(), 20,
		Input{ShopID: i64(5), Ratings: map[string]float64{"vibe": 5, "wifi": 4}},
		map[string]bool{"shop_id": true, "ratings": true, "body": true}, admin)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if r.ShopID != 5 || *r.OverallScore != 4.5 || r.Body != nil {
		t.Fatalf("unexpected review %+v", r)
	}
	if len(pub.events) != 2 || pub.events[0].ShopID != 5 || pub.events[1].ShopID != 7 {
		t.Fatalf("expected events for both shops, got %+v", pub.events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteReviewSoftDeletes(t *testing.T) {
	mock := newMock(t)
	pub := &recorder{}

	expectGet(mock, 20, reviewRow(20, 5, i64(author.UserID), StatusPublished))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE posts SET status='removed', deleted_at=NOW\(\)`).
		WithArgs(int64(20)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectRecompute(mock, 5)
	mock.ExpectCommit()

	if err := NewService(mock, pub, 3).Delete(context.Background(), 20, author); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cache := pub.events[0].Payload.(rating.Cache)
	if cache.Overall != nil || cache.Count != 0 {
		t.Fatalf("expected empty cache, got %+v", cache)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFlagReachesThreshold(t *testing.T) {
	mock := newMock(t)

	expectGet(mock, 20, reviewRow(20, 5, i64(author.UserID), StatusPublished))
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE posts\s+SET flagged_count=flagged_count\+1`).
		WithArgs(int64(20), 3).
		WillReturnRows(pgxmock.NewRows([]string{"flagged_count", "status", "updated_at"}).AddRow(3, StatusFlagged, time.Now()))
	expectRecompute(mock, 5)
	mock.ExpectCommit()

	r, err := NewService(mock, nil, 3).Flag(context.Background(), 20, stranger)
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	if r.FlaggedCount != 3 || r.Status != StatusFlagged {
		t.Fatalf("unexpected review %+v", r)
	}

	if _, err := NewService(mock, nil, 3).Flag(context.Background(), 20, auth.Actor{}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestListByShop(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts WHERE`).
		WithArgs(int64(5), StatusPublished).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mock.ExpectQuery(`FROM posts WHERE .+ ORDER BY created_at DESC, id DESC LIMIT 5 OFFSET 5`).
		WithArgs(int64(5), StatusPublished).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(reviewRow(18, 5, nil, StatusPublished)...).
			AddRow(reviewRow(17, 5, nil, StatusPublished)...))

	res, err := NewService(mock, nil, 3).ListByShop(context.Background(), 5, StatusPublished, query.Page{Number: 2, PerPage: 5}, moderator)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Data) != 2 || res.Total != 7 || res.LastPage != 2 || *res.From != 6 || *res.To != 7 {
		t.Fatalf("unexpected page %+v", res.Meta)
	}

	if _, err := NewService(mock, nil, 3).ListByShop(context.Background(), 5, "hidden", query.Page{Number: 1, PerPage: 5}, moderator); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestListByShopHidesOthersDrafts(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts WHERE .+ AND \(status <> \$3 OR author_user_id = \$4\)`).
		WithArgs(int64(5), StatusDraft, StatusDraft, int64(0)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`FROM posts WHERE .+ \(status <> \$3 OR author_user_id = \$4\)\) ORDER BY`).
		WithArgs(int64(5), StatusDraft, StatusDraft, int64(0)).
		WillReturnRows(pgxmock.NewRows(columns))

	res, err := NewService(mock, nil, 3).ListByShop(context.Background(), 5, StatusDraft, query.Page{Number: 1, PerPage: 15}, auth.Actor{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Data) != 0 || res.Total != 0 {
		t.Fatalf("anonymous caller should see no drafts, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestShowHidesDrafts(t *testing.T) {
	draft := reviewRow(20, 5, i64(author.UserID), StatusDraft)
	cases := []struct {
		name    string
		actor   auth.Actor
		visible bool
	}{
		{"anonymous", auth.Actor{}, false},
		{"stranger", stranger, false},
		{"author", author, true},
		{"moderator", moderator, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := newMock(t)
			expectGet(mock, 20, draft)

			_, err := NewService(mock, nil, 3).Show(context.Background(), 20, tc.actor)
			if tc.visible && err != nil {
				t.Fatalf("expected draft visible, got %v", err)
			}
			if !tc.visible && !errors.Is(err, apperr.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestFlagDeadlockIsConflict(t *testing.T) {
	mock := newMock(t)
	expectGet(mock, 20, reviewRow(20, 5, i64(author.UserID), StatusPublished))
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE posts\s+SET flagged_count=flagged_count\+1`).
		WillReturnRows(pgxmock.NewRows([]string{"flagged_count", "status", "updated_at"}).AddRow(1, StatusPublished, time.Now()))
	mock.ExpectQuery(`SELECT id FROM coffee_shops WHERE id=\$1 FOR NO KEY UPDATE`).
		WithArgs(int64(5)).
		WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()

	_, err := NewService(mock, nil, 3).Flag(context.Background(), 20, stranger)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
}

func TestCreateReviewDeadlockIsConflict(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO posts`).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	_, err := NewService(mock, nil, 3).Create(context.Background(), 5,
		Input{Ratings: map[string]float64{"vibe": 3}}, Client{}, author)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
}

func TestForViewerHidesModerationDetails(t *testing.T) {
	r := Review{AuthorUserID: i64(3), IsAnonymous: true, AdminNotes: str("spam?")}
	if v := r.ForViewer(stranger); v.AdminNotes != nil || v.AuthorUserID != nil {
		t.Fatalf("stranger should see neither notes nor author: %+v", v)
	}
	if v := r.ForViewer(author); v.AuthorUserID == nil || v.AdminNotes != nil {
		t.Fatalf("author should see themselves only: %+v", v)
	}
	if v := r.ForViewer(moderator); v.AdminNotes == nil || v.AuthorUserID == nil {
		t.Fatalf("moderator should see everything: %+v", v)
	}
}
