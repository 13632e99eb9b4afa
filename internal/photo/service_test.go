package photo

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"backend-ratemycoffee/internal/auth"
	"backend-ratemycoffee/internal/shared/apperr"

	"github.com/pashagolub/pgxmock/v3"
)

const testBase = "https://cdn.test/"

type fakeStore struct {
	puts    []string
	deleted []string
	putErr  error
}

func (f *fakeStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.puts = append(f.puts, key)
	return testBase + key, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) KeyFromURL(rawURL string) (string, bool) {
	return strings.CutPrefix(rawURL, testBase)
}

var (
	admin   = auth.Actor{UserID: 1, Role: auth.RoleAdmin}
	owner   = auth.Actor{UserID: 2, Role: auth.RoleShopOwner}
	visitor = auth.Actor{UserID: 3, Role: auth.RoleUser}
)

var photoColumns = []string{"id", "shop_id", "post_id", "url", "caption", "is_cover", "sort_order", "created_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func jpeg(size int64) *Upload {
	return &Upload{Filename: "latte.JPG", Size: size, Body: strings.NewReader("img")}
}

func expectOwner(mock pgxmock.PgxPoolIface, shopID int64, ownerID *int64) {
	mock.ExpectQuery(`SELECT claimed_by_user_id FROM coffee_shops WHERE id=\$1`).
		WithArgs(shopID).
		WillReturnRows(pgxmock.NewRows([]string{"claimed_by_user_id"}).AddRow(ownerID))
}

func expectLock(mock pgxmock.PgxPoolIface, shopID int64) {
	mock.ExpectQuery(`SELECT id FROM coffee_shops WHERE id=\$1 FOR NO KEY UPDATE`).
		WithArgs(shopID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(shopID))
}

func TestCreateCoverUnsetsOthers(t *testing.T) {
	mock := newMock(t)
	store := &fakeStore{}
	svc := NewService(mock, store)
	svc.now = func() time.Time { return time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC) }

	expectOwner(mock, 5, nil)
	mock.ExpectBegin()
	expectLock(mock, 5)
	mock.ExpectExec(`UPDATE shop_photos SET is_cover=FALSE WHERE shop_id=\$1 AND is_cover`).
		WithArgs(int64(5), int64(0)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO shop_photos`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(10), time.Now()))
	mock.ExpectCommit()

	p, err := svc.Create(context.Background(), 5, Input{File: jpeg(3), IsCover: boolPtr(true)}, admin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID != 10 || !p.IsCover {
		t.Fatalf("unexpected photo %+v", p)
	}
	if len(store.puts) != 1 || !strings.HasPrefix(store.puts[0], "shops/5/2025/09/03/") || !strings.HasSuffix(store.puts[0], ".jpg") {
		t.Fatalf("unexpected object keys %v", store.puts)
	}
	if p.URL != testBase+store.puts[0] {
		t.Fatalf("unexpected url %s", p.URL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUploadFailureWritesNoRow(t *testing.T) {
	mock := newMock(t)
	store := &fakeStore{putErr: errors.New("bucket offline")}
	expectOwner(mock, 5, nil)

	_, err := NewService(mock, store).Create(context.Background(), 5, Input{File: jpeg(3)}, admin)
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}

func TestCreateWithoutStoreIsUpstream(t *testing.T) {
	mock := newMock(t)
	expectOwner(mock, 5, nil)

	_, err := NewService(mock, nil).Create(context.Background(), 5, Input{File: jpeg(3)}, admin)
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestCreateRemovesObjectWhenInsertFails(t *testing.T) {
	mock := newMock(t)
	store := &fakeStore{}
	expectOwner(mock, 5, nil)
	mock.ExpectBegin()
	expectLock(mock, 5)
	mock.ExpectQuery(`INSERT INTO shop_photos`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := NewService(mock, store).Create(context.Background(), 5, Input{File: jpeg(3)}, admin)
	if err == nil {
		t.Fatalf("expected insert error")
	}
	if len(store.deleted) != 1 || store.deleted[0] != store.puts[0] {
		t.Fatalf("expected uploaded object removed, got %v", store.deleted)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMock(t), &fakeStore{})
	long := strings.Repeat("x", 1025)
	neg := -1
	cases := map[string]Input{
		"missing file": {},
		"bad type":     {File: &Upload{Filename: "doc.pdf", Size: 3, Body: strings.NewReader("x")}},
		"too large":    {File: jpeg(MaxUploadSize + 1)},
		"caption":      {File: jpeg(3), Caption: &long},
		"sort order":   {File: jpeg(3), SortOrder: &neg},
	}
	for name, in := range cases {
		if _, err := svc.Create(context.Background(), 5, in, admin); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestCreateAuthorization(t *testing.T) {
	mock := newMock(t)
	store := &fakeStore{}
	svc := NewService(mock, store)

	expectOwner(mock, 5, int64Ptr(99))
	if _, err := svc.Create(context.Background(), 5, Input{File: jpeg(3)}, owner); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for owner of another shop, got %v", err)
	}

	expectOwner(mock, 5, nil)
	mock.ExpectQuery(`SELECT author_user_id FROM posts WHERE id=\$1 AND shop_id=\$2`).
		WithArgs(int64(7), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"author_user_id"}).AddRow(int64Ptr(4)))
	if _, err := svc.Create(context.Background(), 5, Input{File: jpeg(3), PostID: int64Ptr(7)}, visitor); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for someone else's review, got %v", err)
	}

	expectOwner(mock, 5, nil)
	mock.ExpectQuery(`SELECT author_user_id FROM posts`).
		WithArgs(int64(8), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"author_user_id"}))
	if _, err := svc.Create(context.Background(), 5, Input{File: jpeg(3), PostID: int64Ptr(8)}, admin); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for a review of another shop, got %v", err)
	}

	if len(store.puts) != 0 {
		t.Fatalf("nothing should be uploaded, got %v", store.puts)
	}
}

func TestUpdateReplacesFile(t *testing.T) {
	mock := newMock(t)
	store := &fakeStore{}
	oldURL := testBase + "shops/5/2025/01/01/old.png"

	mock.ExpectQuery(`FROM shop_photos WHERE id=\$1`).
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(photoColumns).AddRow(int64(10), int64(5), nil, oldURL, nil, false, 0, time.Now()))
	expectOwner(mock, 5, int64Ptr(2))
	mock.ExpectBegin()
	expectLock(mock, 5)
	mock.ExpectExec(`UPDATE shop_photos SET is_cover=FALSE`).
		WithArgs(int64(5), int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE shop_photos\s+SET post_id=\$2`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	p, err := NewService(mock, store).Update(context.Background(), 10, Input{File: jpeg(3), IsCover: boolPtr(true)}, owner)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.URL == oldURL || !p.IsCover {
		t.Fatalf("unexpected photo %+v", p)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "shops/5/2025/01/01/old.png" {
		t.Fatalf("expected old object removed, got %v", store.deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteByReviewAuthor(t *testing.T) {
	mock := newMock(t)
	store := &fakeStore{}
	url := testBase + "shops/5/2025/01/01/a.webp"

	mock.ExpectQuery(`FROM shop_photos WHERE id=\$1`).
		WithArgs(int64(10)).
		WillReturnRows(pgxmock.NewRows(photoColumns).AddRow(int64(10), int64(5), int64Ptr(7), url, nil, false, 0, time.Now()))
	expectOwner(mock, 5, nil)
	mock.ExpectQuery(`SELECT author_user_id FROM posts`).
		WithArgs(int64(7), int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{"author_user_id"}).AddRow(int64Ptr(visitor.UserID)))
	mock.ExpectExec(`DELETE FROM shop_photos WHERE id=\$1`).
		WithArgs(int64(10)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	if err := NewService(mock, store).Delete(context.Background(), 10, visitor); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.deleted) != 1 {
		t.Fatalf("expected object removed, got %v", store.deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetMissingPhoto(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM shop_photos WHERE id=\$1`).
		WithArgs(int64(404)).
		WillReturnRows(pgxmock.NewRows(photoColumns))

	if _, err := NewService(mock, nil).Get(context.Background(), 404); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
