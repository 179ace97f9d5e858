package storage

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Collection describes an NFT collection loans can be written against.
// Immutable once registered; all rate and ratio fields are basis points.
type Collection struct {
	Name        string
	NFTContract common.Address
	MetadataURI string
	MaxLTVBps   uint64
	MinRateBps  uint64
	MaxRateBps  uint64
	CurveKind   string
	RarityTiers []string
	MinValue    uint64
	MaxValue    uint64
	CreatedAt   time.Time
}

// AppraisalStatus tags the appraisal request lifecycle.
type AppraisalStatus string

const (
	AppraisalPending   AppraisalStatus = "pending"
	AppraisalCompleted AppraisalStatus = "completed"
	AppraisalExpired   AppraisalStatus = "expired"
)

// Submission is one appraiser's value for a request. Append-only.
type Submission struct {
	Appraiser common.Address
	Value     uint64
	CreatedAt time.Time
}

// AppraisalRequest tracks consensus over an item's collateral value.
// Submissions accumulate until quorum, then FinalValue is locked in and the
// status moves to completed irreversibly. Never deleted; audit trail.
type AppraisalRequest struct {
	ID              uint64
	Collection      string
	ItemID          string
	Status          AppraisalStatus
	Submissions     []Submission
	FinalValue      *uint64
	CreatedAtHeight uint64
	CreatedAt       time.Time
}

// LoanState is the loan lifecycle tag. Active is zero so a fresh loan
// reports state 0 on the wire.
type LoanState uint8

const (
	LoanActive LoanState = iota
	LoanRepaid
	LoanDefaulted
	LoanLiquidated
)

func (s LoanState) String() string {
	switch s {
	case LoanActive:
		return "active"
	case LoanRepaid:
		return "repaid"
	case LoanDefaulted:
		return "defaulted"
	case LoanLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Loan terms are fixed at creation; only State may move, and only forward.
type Loan struct {
	ID             uint64
	Borrower       common.Address
	Collection     string
	ItemID         string
	Amount         uint64
	RateBps        uint64
	DurationBlocks uint64
	State          LoanState
	StartHeight    uint64
	CreatedAt      time.Time
}

// Oracle is a registered data submitter for one peril type.
// LastTimestamp is the replay-protection watermark.
type Oracle struct {
	ID            string
	Name          string
	PerilType     string
	Active        bool
	LastTimestamp int64
	CreatedAt     time.Time
}

// RiskProfile is static pricing reference data for one peril type.
// Adjustments maps location to an additional rate in basis points.
type RiskProfile struct {
	ID          uint64
	PerilType   string
	BaseRateBps uint64
	Adjustments map[string]uint64
	CreatedAt   time.Time
}

// OracleDataPoint is one pushed observation. Append-only facts; claims
// evaluate the latest point matching a policy's peril and location.
type OracleDataPoint struct {
	OracleID  string
	PerilType string
	Location  string
	Magnitude decimal.Decimal
	Timestamp int64
	CreatedAt time.Time
}

// PolicyStatus tags the insurance policy lifecycle.
type PolicyStatus string

const (
	PolicyActive  PolicyStatus = "active"
	PolicyClaimed PolicyStatus = "claimed"
	PolicyExpired PolicyStatus = "expired"
)

// Policy is a parametric insurance position. TriggerThreshold is the
// magnitude at or above which the peril condition is met.
type Policy struct {
	ID               uint64
	Insured          common.Address
	CoverageAmount   uint64
	PerilType        string
	Location         string
	PremiumPaid      uint64
	TriggerThreshold decimal.Decimal
	Status           PolicyStatus
	StartHeight      uint64
	DurationBlocks   uint64
	StartTimestamp   int64
	CreatedAt        time.Time
}

// ClaimAlert records the first observed trigger for a policy, used by the
// monitor for notification de-duplication.
type ClaimAlert struct {
	ID        int64
	PolicyID  uint64
	PerilType string
	Location  string
	Magnitude decimal.Decimal
	Timestamp int64
	CreatedAt time.Time
}
