package shop

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-ratemycoffee/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

func passthrough(c *fiber.Ctx) error { return c.Next() }

func forbid(*fiber.Ctx) error { return fiber.NewError(fiber.StatusForbidden, "forbidden") }

func newTestApp(svc *Service, admin fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler})
	RegisterRoutes(app, svc, passthrough, admin)
	return app
}

func TestLocationsRouteIsNotASlug(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT DISTINCT city_municipality, province FROM coffee_shops`).
		WillReturnRows(pgxmock.NewRows([]string{"city_municipality", "province"}).
			AddRow(strPtr("Makati"), strPtr("Metro Manila")))

	app := newTestApp(newTestService(mock, nil), passthrough)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/coffee-shops/locations", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("locations status: %v %d", err, resp.StatusCode)
	}
	var body struct {
		Data []Location `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Data) != 1 {
		t.Fatalf("unexpected body %+v %v", body, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestShowShopBySlug(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM coffee_shops WHERE slug = \$1`).
		WithArgs("brew-co").
		WillReturnRows(pgxmock.NewRows(shopColumns).AddRow(shopRow(4, "Brew Co", "brew-co")...))

	app := newTestApp(newTestService(mock, nil), passthrough)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/coffee-shops/brew-co?posts_per_page=500", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("show status: %v %d", err, resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["slug"] != "brew-co" {
		t.Fatalf("expected embedded shop fields, got %v", body["slug"])
	}
	if _, ok := body["posts_pagination"]; !ok {
		t.Fatalf("expected posts pagination")
	}
}

func TestCreateShopRequiresAdmin(t *testing.T) {
	mock := newMock(t)
	app := newTestApp(newTestService(mock, nil), forbid)

	req := httptest.NewRequest(http.MethodPost, "/coffee-shops", bytes.NewReader([]byte(`{"name":"Brew Co"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v %d", err, resp.StatusCode)
	}
}

func TestCreateShopRoute(t *testing.T) {
	mock := newMock(t)
	expectSlugTaken(mock, "brew-co", 0, false)
	mock.ExpectQuery(`INSERT INTO coffee_shops`).WillReturnRows(insertedRow())

	app := newTestApp(newTestService(mock, nil), passthrough)
	req := httptest.NewRequest(http.MethodPost, "/coffee-shops", bytes.NewReader([]byte(`{"name":"Brew Co","tags":["study"]}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %v %d", err, resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPost, "/coffee-shops", bytes.NewReader([]byte(`{"status":"open"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestDeleteShopRoute(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`DELETE FROM coffee_shops`).WillReturnResult(pgxmock.NewResult("DELETE", 1))

	app := newTestApp(newTestService(mock, nil), passthrough)
	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/coffee-shops/3", nil))
	if err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status: %v %d", err, resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodDelete, "/coffee-shops/brew-co", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for non-numeric id, got %d", resp.StatusCode)
	}
}
