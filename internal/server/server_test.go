package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"lendsure/internal/claims"
	"lendsure/internal/consensus"
	"lendsure/internal/core"
	"lendsure/internal/pricing"
	"lendsure/internal/registry"
	"lendsure/internal/storage"
	"lendsure/internal/underwriting"
)

const adminHex = "0x00000000000000000000000000000000000000ad"

type stubSource struct{}

func (stubSource) Height(context.Context) (uint64, error) { return 100, nil }

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store := storage.NewMemStore()
	logger := zerolog.Nop()

	pricer := pricing.New(store, logger)
	c := core.New(core.Deps{
		Registry:  registry.New(common.HexToAddress(adminHex), store, underwriting.KnownCurve, logger),
		Consensus: consensus.New(store, consensus.Options{Quorum: 3}, logger),
		Underwriting: underwriting.New(store, underwriting.NewLogCustodian(logger), underwriting.Bounds{
			MinDurationBlocks: 144,
			MaxDurationBlocks: 52560,
			BlocksPerYear:     52560,
		}, logger),
		Pricing: pricer,
		Claims:  claims.New(store, pricer, claims.NewLogTreasury(logger), logger),
		Chain:   stubSource{},
		Backend: store,
	}, logger)

	app := fiber.New()
	h := &handler{core: c, logger: logger}
	h.register(app)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t)
	resp := doJSON(t, app, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRegisterCollectionEndpoint(t *testing.T) {
	app := newTestApp(t)

	body := map[string]any{
		"caller":       adminHex,
		"name":         "punks",
		"nft_contract": "0x0000000000000000000000000000000000000001",
		"max_ltv_bps":  5500,
		"min_rate_bps": 500,
		"max_rate_bps": 2000,
		"curve":        "linear",
		"min_value":    1,
		"max_value":    100000000,
	}
	resp := doJSON(t, app, http.MethodPost, "/v1/collections", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	// A non-admin caller maps to 403 with the protocol code.
	body["caller"] = "0x00000000000000000000000000000000000000ee"
	body["name"] = "other"
	resp = doJSON(t, app, http.MethodPost, "/v1/collections", body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	var errResp errorBody
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error != 100 {
		t.Fatalf("error code = %d, want 100", errResp.Error)
	}
}

func TestBadAddressRejected(t *testing.T) {
	app := newTestApp(t)

	body := map[string]any{"caller": "not-an-address", "name": "punks"}
	resp := doJSON(t, app, http.MethodPost, "/v1/collections", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownLoanIs404(t *testing.T) {
	app := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/v1/loans/42", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodGet, "/v1/loans/abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestConditionEndpointNeverErrors(t *testing.T) {
	app := newTestApp(t)

	resp := doJSON(t, app, http.MethodGet, "/v1/policies/999/condition", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Met bool `json:"met"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Met {
		t.Fatal("unknown policy must report met=false")
	}
}
