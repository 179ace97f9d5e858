package storage

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// CollectionStore persists NFT collection metadata.
type CollectionStore interface {
	CreateCollection(ctx context.Context, c Collection) error
	GetCollection(ctx context.Context, name string) (Collection, error)
}

// AppraiserStore tracks which principals may appraise which collections.
type AppraiserStore interface {
	AuthorizeAppraiser(ctx context.Context, appraiser common.Address, collection string) error
	RevokeAppraiser(ctx context.Context, appraiser common.Address, collection string) error
	IsAuthorizedAppraiser(ctx context.Context, appraiser common.Address, collection string) (bool, error)
	CountAppraisers(ctx context.Context, collection string) (int, error)
}

// AppraisalStore persists appraisal requests and their submissions.
type AppraisalStore interface {
	CreateAppraisalRequest(ctx context.Context, req AppraisalRequest) (uint64, error)
	GetAppraisalRequest(ctx context.Context, id uint64) (AppraisalRequest, error)
	AppendSubmission(ctx context.Context, id uint64, sub Submission) error
	FinalizeAppraisal(ctx context.Context, id uint64, finalValue uint64) error
	ExpireAppraisal(ctx context.Context, id uint64) error
	LatestCompletedAppraisal(ctx context.Context, collection, itemID string) (AppraisalRequest, error)
	ListRecentAppraisals(ctx context.Context, limit int) ([]AppraisalRequest, error)
	ListPendingAppraisals(ctx context.Context) ([]AppraisalRequest, error)
}

// LoanStore persists loans.
type LoanStore interface {
	CreateLoan(ctx context.Context, loan Loan) (uint64, error)
	GetLoan(ctx context.Context, id uint64) (Loan, error)
	SetLoanState(ctx context.Context, id uint64, state LoanState) error
	ListRecentLoans(ctx context.Context, limit int) ([]Loan, error)
}

// OracleStore persists registered oracles.
type OracleStore interface {
	CreateOracle(ctx context.Context, o Oracle) error
	GetOracle(ctx context.Context, id string) (Oracle, error)
	SetOracleTimestamp(ctx context.Context, id string, ts int64) error
}

// RiskProfileStore persists static pricing reference data.
type RiskProfileStore interface {
	CreateRiskProfile(ctx context.Context, p RiskProfile) error
	GetRiskProfile(ctx context.Context, id uint64) (RiskProfile, error)
}

// OracleDataStore is the append-only oracle observation log.
type OracleDataStore interface {
	AppendOracleData(ctx context.Context, point OracleDataPoint) error
	LatestOracleData(ctx context.Context, perilType, location string) (OracleDataPoint, error)
	ListOracleDataBetween(ctx context.Context, perilType, location string, from, to int64) ([]OracleDataPoint, error)
}

// PolicyStore persists insurance policies.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p Policy) (uint64, error)
	GetPolicy(ctx context.Context, id uint64) (Policy, error)
	SetPolicyStatus(ctx context.Context, id uint64, status PolicyStatus) error
	ListPoliciesByStatus(ctx context.Context, status PolicyStatus) ([]Policy, error)
}

// ClaimAlertStore records first-trigger observations for de-duplication.
type ClaimAlertStore interface {
	InsertClaimAlert(ctx context.Context, alert ClaimAlert) (bool, error)
	ListRecentClaimAlerts(ctx context.Context, limit int) ([]ClaimAlert, error)
}

// AdvisoryLocker exposes cross-process exclusion helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend aggregates every store the protocol core needs.
type Backend interface {
	CollectionStore
	AppraiserStore
	AppraisalStore
	LoanStore
	OracleStore
	RiskProfileStore
	OracleDataStore
	PolicyStore
	ClaimAlertStore
}
