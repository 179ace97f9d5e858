package server

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lendsure/internal/claims"
	"lendsure/internal/core"
	"lendsure/internal/registry"
	"lendsure/internal/storage"
)

type handler struct {
	core   *core.Core
	logger zerolog.Logger
}

func (h *handler) register(app *fiber.App) {
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/v1")

	v1.Post("/collections", h.registerCollection)
	v1.Get("/collections/:name", h.getCollection)

	v1.Post("/appraisers", h.authorizeAppraiser)
	v1.Post("/appraisers/revoke", h.revokeAppraiser)

	v1.Post("/appraisals", h.requestAppraisal)
	v1.Get("/appraisals/:id", h.getAppraisal)
	v1.Post("/appraisals/:id/submissions", h.submitAppraisal)

	v1.Post("/loans", h.applyForLoan)
	v1.Get("/loans/:id", h.getLoan)
	v1.Post("/loans/:id/repay", h.repayLoan)
	v1.Post("/loans/:id/liquidate", h.liquidateLoan)

	v1.Post("/oracles", h.registerOracle)
	v1.Get("/oracles/:id", h.getOracle)
	v1.Post("/oracles/:id/data", h.submitOracleData)

	v1.Post("/risk-profiles", h.registerRiskProfile)
	v1.Get("/risk-profiles/:id", h.getRiskProfile)
	v1.Get("/premium", h.quotePremium)

	v1.Post("/policies", h.purchasePolicy)
	v1.Get("/policies/:id", h.getPolicy)
	v1.Get("/policies/:id/condition", h.conditionMet)
	v1.Post("/policies/:id/settle", h.settleClaim)
	v1.Post("/policies/:id/expire", h.expirePolicy)
}

func parseAddress(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func pathID(c fiber.Ctx) (uint64, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	return id, err == nil
}

type registerCollectionRequest struct {
	Caller      string   `json:"caller"`
	Name        string   `json:"name"`
	NFTContract string   `json:"nft_contract"`
	MetadataURI string   `json:"metadata_uri"`
	MaxLTVBps   uint64   `json:"max_ltv_bps"`
	MinRateBps  uint64   `json:"min_rate_bps"`
	MaxRateBps  uint64   `json:"max_rate_bps"`
	Curve       string   `json:"curve"`
	RarityTiers []string `json:"rarity_tiers"`
	MinValue    uint64   `json:"min_value"`
	MaxValue    uint64   `json:"max_value"`
}

func (h *handler) registerCollection(c fiber.Ctx) error {
	var req registerCollectionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		return badRequest(c, "caller must be a hex address")
	}
	contract, ok := parseAddress(req.NFTContract)
	if !ok {
		return badRequest(c, "nft_contract must be a hex address")
	}

	err := h.core.RegisterCollection(c.Context(), caller, registry.CollectionParams{
		Name:        req.Name,
		NFTContract: contract,
		MetadataURI: req.MetadataURI,
		MaxLTVBps:   req.MaxLTVBps,
		MinRateBps:  req.MinRateBps,
		MaxRateBps:  req.MaxRateBps,
		CurveKind:   req.Curve,
		RarityTiers: req.RarityTiers,
		MinValue:    req.MinValue,
		MaxValue:    req.MaxValue,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"name": req.Name})
}

func (h *handler) getCollection(c fiber.Ctx) error {
	coll, err := h.core.GetCollection(c.Context(), c.Params("name"))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(coll)
}

type appraiserRequest struct {
	Caller      string   `json:"caller"`
	Appraiser   string   `json:"appraiser"`
	Collections []string `json:"collections"`
	Collection  string   `json:"collection"`
}

func (h *handler) authorizeAppraiser(c fiber.Ctx) error {
	var req appraiserRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		return badRequest(c, "caller must be a hex address")
	}
	appraiser, ok := parseAddress(req.Appraiser)
	if !ok {
		return badRequest(c, "appraiser must be a hex address")
	}
	if err := h.core.AuthorizeAppraiser(c.Context(), caller, appraiser, req.Collections); err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"appraiser": appraiser.Hex()})
}

func (h *handler) revokeAppraiser(c fiber.Ctx) error {
	var req appraiserRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		return badRequest(c, "caller must be a hex address")
	}
	appraiser, ok := parseAddress(req.Appraiser)
	if !ok {
		return badRequest(c, "appraiser must be a hex address")
	}
	if err := h.core.RevokeAppraiser(c.Context(), caller, appraiser, req.Collection); err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"appraiser": appraiser.Hex()})
}

type requestAppraisalRequest struct {
	Collection string `json:"collection"`
	ItemID     string `json:"item_id"`
}

func (h *handler) requestAppraisal(c fiber.Ctx) error {
	var req requestAppraisalRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	id, err := h.core.RequestAppraisal(c.Context(), req.Collection, req.ItemID)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *handler) getAppraisal(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	req, err := h.core.GetAppraisalRequest(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(req)
}

type submitAppraisalRequest struct {
	Appraiser string `json:"appraiser"`
	Value     uint64 `json:"value"`
}

func (h *handler) submitAppraisal(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	var req submitAppraisalRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	appraiser, ok := parseAddress(req.Appraiser)
	if !ok {
		return badRequest(c, "appraiser must be a hex address")
	}
	finalized, err := h.core.SubmitAppraisal(c.Context(), id, req.Value, appraiser)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"finalized": finalized})
}

type applyForLoanRequest struct {
	Borrower       string `json:"borrower"`
	Collection     string `json:"collection"`
	ItemID         string `json:"item_id"`
	Amount         uint64 `json:"amount"`
	DurationBlocks uint64 `json:"duration_blocks"`
}

func (h *handler) applyForLoan(c fiber.Ctx) error {
	var req applyForLoanRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	borrower, ok := parseAddress(req.Borrower)
	if !ok {
		return badRequest(c, "borrower must be a hex address")
	}
	id, err := h.core.ApplyForLoan(c.Context(), borrower, req.Collection, req.ItemID, req.Amount, req.DurationBlocks)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"id": id})
}

type loanResponse struct {
	Loan        storage.Loan `json:"loan"`
	Outstanding uint64       `json:"outstanding"`
}

func (h *handler) getLoan(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	loan, err := h.core.GetLoan(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	resp := loanResponse{Loan: loan}
	if loan.State == storage.LoanActive {
		outstanding, err := h.core.OutstandingBalance(c.Context(), id)
		if err != nil {
			return fail(c, err)
		}
		resp.Outstanding = outstanding
	}
	return c.Status(http.StatusOK).JSON(resp)
}

type repayLoanRequest struct {
	Caller string `json:"caller"`
	Amount uint64 `json:"amount"`
}

func (h *handler) repayLoan(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	var req repayLoanRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		return badRequest(c, "caller must be a hex address")
	}
	if err := h.core.RepayLoan(c.Context(), caller, id, req.Amount); err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"id": id, "state": storage.LoanRepaid.String()})
}

func (h *handler) liquidateLoan(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	if err := h.core.LiquidateLoan(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"id": id, "state": storage.LoanLiquidated.String()})
}

type registerOracleRequest struct {
	Caller    string `json:"caller"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	PerilType string `json:"peril_type"`
}

func (h *handler) registerOracle(c fiber.Ctx) error {
	var req registerOracleRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		return badRequest(c, "caller must be a hex address")
	}
	if err := h.core.RegisterOracle(c.Context(), caller, req.ID, req.Name, req.PerilType); err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"id": req.ID})
}

func (h *handler) getOracle(c fiber.Ctx) error {
	oracle, found, err := h.core.GetOracle(c.Context(), c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	if !found {
		return c.Status(http.StatusOK).JSON(nil)
	}
	return c.Status(http.StatusOK).JSON(oracle)
}

type submitOracleDataRequest struct {
	PerilType string `json:"peril_type"`
	Location  string `json:"location"`
	Magnitude string `json:"magnitude"`
	Timestamp int64  `json:"timestamp"`
}

func (h *handler) submitOracleData(c fiber.Ctx) error {
	var req submitOracleDataRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	magnitude, err := decimal.NewFromString(req.Magnitude)
	if err != nil {
		return badRequest(c, "magnitude must be a decimal string")
	}
	if err := h.core.SubmitOracleData(c.Context(), c.Params("id"), req.PerilType, req.Location, magnitude, req.Timestamp); err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"timestamp": req.Timestamp})
}

type registerRiskProfileRequest struct {
	Caller      string            `json:"caller"`
	ID          uint64            `json:"id"`
	PerilType   string            `json:"peril_type"`
	BaseRateBps uint64            `json:"base_rate_bps"`
	Adjustments map[string]uint64 `json:"adjustments"`
}

func (h *handler) registerRiskProfile(c fiber.Ctx) error {
	var req registerRiskProfileRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		return badRequest(c, "caller must be a hex address")
	}
	err := h.core.RegisterRiskProfile(c.Context(), caller, storage.RiskProfile{
		ID:          req.ID,
		PerilType:   req.PerilType,
		BaseRateBps: req.BaseRateBps,
		Adjustments: req.Adjustments,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"id": req.ID})
}

func (h *handler) getRiskProfile(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	profile, found, err := h.core.GetRiskProfile(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	if !found {
		return c.Status(http.StatusOK).JSON(nil)
	}
	return c.Status(http.StatusOK).JSON(profile)
}

func (h *handler) quotePremium(c fiber.Ctx) error {
	profileID, err := strconv.ParseUint(c.Query("profile"), 10, 64)
	if err != nil {
		return badRequest(c, "profile must be a number")
	}
	coverage, err := strconv.ParseUint(c.Query("coverage"), 10, 64)
	if err != nil {
		return badRequest(c, "coverage must be a number")
	}
	premium, err := h.core.CalculatePremium(c.Context(), profileID, coverage, c.Query("location"))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"premium": premium})
}

type purchasePolicyRequest struct {
	Insured          string `json:"insured"`
	CoverageAmount   uint64 `json:"coverage_amount"`
	PerilType        string `json:"peril_type"`
	Location         string `json:"location"`
	ProfileID        uint64 `json:"profile_id"`
	DurationBlocks   uint64 `json:"duration_blocks"`
	TriggerThreshold string `json:"trigger_threshold"`
}

func (h *handler) purchasePolicy(c fiber.Ctx) error {
	var req purchasePolicyRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	insured, ok := parseAddress(req.Insured)
	if !ok {
		return badRequest(c, "insured must be a hex address")
	}
	threshold, err := decimal.NewFromString(req.TriggerThreshold)
	if err != nil {
		return badRequest(c, "trigger_threshold must be a decimal string")
	}
	id, err := h.core.PurchasePolicy(c.Context(), claims.PolicyParams{
		Insured:          insured,
		CoverageAmount:   req.CoverageAmount,
		PerilType:        req.PerilType,
		Location:         req.Location,
		ProfileID:        req.ProfileID,
		DurationBlocks:   req.DurationBlocks,
		TriggerThreshold: threshold,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *handler) getPolicy(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	policy, err := h.core.GetPolicy(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(policy)
}

func (h *handler) conditionMet(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	met := h.core.ConditionMet(c.Context(), id)
	return c.Status(http.StatusOK).JSON(fiber.Map{"met": met})
}

func (h *handler) settleClaim(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	if err := h.core.SettleClaim(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"id": id, "status": string(storage.PolicyClaimed)})
}

func (h *handler) expirePolicy(c fiber.Ctx) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "id must be a number")
	}
	expired, err := h.core.ExpirePolicy(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"id": id, "expired": expired})
}
