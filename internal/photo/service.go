package photo

import (
	"context"
	"errors"
	"log"
	"time"

	"backend-ratemycoffee/internal/auth"
	"backend-ratemycoffee/internal/db"
	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/shared/validate"
	"backend-ratemycoffee/internal/storage"

	"github.com/jackc/pgx/v5"
)

const selectPhotos = `
	SELECT id, shop_id, post_id, url, caption, is_cover, sort_order, created_at
	FROM shop_photos`

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

type Service struct {
	db    db.TxQuerier
	store storage.Store
	now   func() time.Time
}

// NewService accepts a nil store; writes that need one then fail as
// upstream errors.
func NewService(q db.TxQuerier, store storage.Store) *Service {
	return &Service{db: q, store: store, now: time.Now}
}

// List returns the shop's photos, failing when the shop is absent.
func (s *Service) List(ctx context.Context, shopID int64) ([]Photo, error) {
	if _, err := s.shopOwner(ctx, shopID); err != nil {
		return nil, err
	}
	return s.ListByShop(ctx, shopID)
}

// ListByShop returns photos ordered by sort_order then id.
func (s *Service) ListByShop(ctx context.Context, shopID int64) ([]Photo, error) {
	rows, err := s.db.Query(ctx, selectPhotos+`
		WHERE shop_id=$1
		ORDER BY sort_order, id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	photos := []Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

func (s *Service) Get(ctx context.Context, id int64) (Photo, error) {
	p, err := scanPhoto(s.db.QueryRow(ctx, selectPhotos+` WHERE id=$1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return Photo{}, apperr.NotFound("photo not found")
		}
		return Photo{}, err
	}
	return p, nil
}

// Create uploads the file, then records the photo. A failed upload writes
// no row; a failed insert removes the uploaded object.
func (s *Service) Create(ctx context.Context, shopID int64, in Input, actor auth.Actor) (Photo, error) {
	if in.File == nil {
		return Photo{}, apperr.Invalid("file", "is required")
	}
	if err := checkInput(in); err != nil {
		return Photo{}, err
	}
	owner, err := s.shopOwner(ctx, shopID)
	if err != nil {
		return Photo{}, err
	}
	var author *int64
	if in.PostID != nil {
		if author, err = s.postAuthor(ctx, *in.PostID, shopID); err != nil {
			return Photo{}, err
		}
	}
	if err := authorize(actor, owner, author); err != nil {
		return Photo{}, err
	}

	key, url, err := s.upload(ctx, shopID, in.File)
	if err != nil {
		return Photo{}, err
	}

	p := Photo{ShopID: shopID, PostID: in.PostID, URL: url, Caption: emptyToNil(in.Caption)}
	if in.IsCover != nil {
		p.IsCover = *in.IsCover
	}
	if in.SortOrder != nil {
		p.SortOrder = *in.SortOrder
	}

	err = db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockShop(ctx, tx, shopID, p.IsCover, 0); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `
			INSERT INTO shop_photos (shop_id, post_id, url, caption, is_cover, sort_order)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id, created_at
		`, p.ShopID, p.PostID, p.URL, p.Caption, p.IsCover, p.SortOrder).Scan(&p.ID, &p.CreatedAt)
	})
	if err != nil {
		s.removeObject(ctx, key)
		return Photo{}, writeError(err)
	}
	return p, nil
}

// Update applies in to the photo. A new file replaces the stored object;
// the old object is removed once the row points at the new one.
func (s *Service) Update(ctx context.Context, id int64, in Input, actor auth.Actor) (Photo, error) {
	if err := checkInput(in); err != nil {
		return Photo{}, err
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return Photo{}, err
	}
	owner, err := s.authorizeExisting(ctx, actor, current)
	if err != nil {
		return Photo{}, err
	}

	next := current
	if in.PostID != nil {
		newAuthor, err := s.postAuthor(ctx, *in.PostID, current.ShopID)
		if err != nil {
			return Photo{}, err
		}
		if err := authorize(actor, owner, newAuthor); err != nil {
			return Photo{}, err
		}
		next.PostID = in.PostID
	}
	if in.Caption != nil {
		next.Caption = emptyToNil(in.Caption)
	}
	if in.IsCover != nil {
		next.IsCover = *in.IsCover
	}
	if in.SortOrder != nil {
		next.SortOrder = *in.SortOrder
	}

	var newKey string
	if in.File != nil {
		if newKey, next.URL, err = s.upload(ctx, current.ShopID, in.File); err != nil {
			return Photo{}, err
		}
	}

	err = db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockShop(ctx, tx, current.ShopID, next.IsCover, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE shop_photos
			SET post_id=$2, url=$3, caption=$4, is_cover=$5, sort_order=$6
			WHERE id=$1
		`, id, next.PostID, next.URL, next.Caption, next.IsCover, next.SortOrder)
		return err
	})
	if err != nil {
		if newKey != "" {
			s.removeObject(ctx, newKey)
		}
		return Photo{}, writeError(err)
	}
	if newKey != "" {
		s.DeleteObjects(ctx, []string{current.URL})
	}
	return next, nil
}

// Delete removes the stored object best-effort, then the row.
func (s *Service) Delete(ctx context.Context, id int64, actor auth.Actor) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.authorizeExisting(ctx, actor, current); err != nil {
		return err
	}

	s.DeleteObjects(ctx, []string{current.URL})
	tag, err := s.db.Exec(ctx, `DELETE FROM shop_photos WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("photo not found")
	}
	return nil
}

// DeleteObjects removes the objects behind urls, logging failures.
func (s *Service) DeleteObjects(ctx context.Context, urls []string) {
	if s.store == nil {
		return
	}
	for _, u := range urls {
		key, ok := s.store.KeyFromURL(u)
		if !ok {
			log.Printf("photo: no object key for %q", u)
			continue
		}
		s.removeObject(ctx, key)
	}
}

func (s *Service) removeObject(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		log.Printf("photo: delete object %s: %v", key, err)
	}
}

func (s *Service) upload(ctx context.Context, shopID int64, f *Upload) (string, string, error) {
	if s.store == nil {
		return "", "", apperr.Upstream("upload failed", storage.ErrNotConfigured)
	}
	ext := storage.ExtOf(f.Filename)
	key := storage.ObjectKey(shopID, ext, s.now())
	url, err := s.store.Put(ctx, key, f.Body, f.Size, contentTypes[ext])
	if err != nil {
		log.Printf("photo: upload %s: %v", key, err)
		return "", "", apperr.Upstream("upload failed", err)
	}
	return key, url, nil
}

func (s *Service) shopOwner(ctx context.Context, shopID int64) (*int64, error) {
	var owner *int64
	err := s.db.QueryRow(ctx, `SELECT claimed_by_user_id FROM coffee_shops WHERE id=$1`, shopID).Scan(&owner)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("coffee shop not found")
		}
		return nil, err
	}
	return owner, nil
}

// postAuthor returns the author of a review of the shop. A review of
// another shop is reported as an invalid post_id.
func (s *Service) postAuthor(ctx context.Context, postID, shopID int64) (*int64, error) {
	var author *int64
	err := s.db.QueryRow(ctx, `
		SELECT author_user_id FROM posts WHERE id=$1 AND shop_id=$2
	`, postID, shopID).Scan(&author)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.Invalid("post_id", "is invalid")
		}
		return nil, err
	}
	return author, nil
}

// lockShop takes the shop row lock and, for a cover photo, clears the
// other covers of the shop.
func lockShop(ctx context.Context, tx pgx.Tx, shopID int64, cover bool, except int64) error {
	var id int64
	if err := tx.QueryRow(ctx, `SELECT id FROM coffee_shops WHERE id=$1 FOR NO KEY UPDATE`, shopID).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("coffee shop not found")
		}
		return err
	}
	if !cover {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE shop_photos SET is_cover=FALSE WHERE shop_id=$1 AND is_cover AND id<>$2
	`, shopID, except)
	return err
}

// authorizeExisting checks actor against the photo's shop and review and
// returns the shop owner.
func (s *Service) authorizeExisting(ctx context.Context, actor auth.Actor, p Photo) (*int64, error) {
	owner, err := s.shopOwner(ctx, p.ShopID)
	if err != nil {
		return nil, err
	}
	var author *int64
	if p.PostID != nil {
		author, err = s.postAuthor(ctx, *p.PostID, p.ShopID)
		if err != nil && !errors.Is(err, apperr.ErrValidation) {
			return nil, err
		}
	}
	return owner, authorize(actor, owner, author)
}

// authorize allows admins, the owner who claimed the shop and the author
// of the review the photo belongs to.
func authorize(actor auth.Actor, owner, author *int64) error {
	switch {
	case !actor.Authenticated():
		return apperr.Unauthorized("unauthenticated")
	case actor.Is(auth.RoleAdmin):
		return nil
	case actor.Is(auth.RoleShopOwner) && owner != nil && *owner == actor.UserID:
		return nil
	case author != nil && *author == actor.UserID:
		return nil
	}
	return apperr.Forbidden("this action is unauthorized")
}

func checkInput(in Input) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if in.File == nil {
		return nil
	}
	if _, ok := contentTypes[storage.ExtOf(in.File.Filename)]; !ok {
		return apperr.Invalid("file", "must be a file of type: jpeg, jpg, png, webp")
	}
	if in.File.Size > MaxUploadSize {
		return apperr.Invalid("file", "may not be greater than 5120 kilobytes")
	}
	return nil
}

func writeError(err error) error {
	if db.IsUniqueViolation(err, "shop_photos_one_cover") {
		return apperr.Conflict("another cover photo was set concurrently")
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Invalid("post_id", "is invalid")
	}
	if db.IsRetryable(err) {
		return apperr.Conflict("the coffee shop was updated concurrently, try again")
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row scanner) (Photo, error) {
	var p Photo
	err := row.Scan(&p.ID, &p.ShopID, &p.PostID, &p.URL, &p.Caption, &p.IsCover, &p.SortOrder, &p.CreatedAt)
	return p, err
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
