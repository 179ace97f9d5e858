package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendsure/internal/protocol"
)

// MemStore is an in-memory Backend. It backs the node when no database is
// configured and the engine tests. All methods are safe for concurrent use,
// though the protocol core serialises calls anyway.
type MemStore struct {
	mu sync.Mutex

	collections map[string]Collection
	appraisers  map[string]map[common.Address]bool
	appraisals  map[uint64]*AppraisalRequest
	loans       map[uint64]*Loan
	oracles     map[string]*Oracle
	profiles    map[uint64]RiskProfile
	oracleData  []OracleDataPoint
	policies    map[uint64]*Policy
	alerts      map[uint64]ClaimAlert

	nextAppraisalID uint64
	nextLoanID      uint64
	nextPolicyID    uint64
	nextAlertID     int64
}

// NewMemStore builds an empty in-memory backend.
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string]Collection),
		appraisers:  make(map[string]map[common.Address]bool),
		appraisals:  make(map[uint64]*AppraisalRequest),
		loans:       make(map[uint64]*Loan),
		oracles:     make(map[string]*Oracle),
		profiles:    make(map[uint64]RiskProfile),
		policies:    make(map[uint64]*Policy),
		alerts:      make(map[uint64]ClaimAlert),
	}
}

func (m *MemStore) CreateCollection(_ context.Context, c Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[c.Name]; ok {
		return protocol.ErrAlreadyExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.collections[c.Name] = c
	return nil
}

func (m *MemStore) GetCollection(_ context.Context, name string) (Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return Collection{}, protocol.ErrNotFound
	}
	return c, nil
}

func (m *MemStore) AuthorizeAppraiser(_ context.Context, appraiser common.Address, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.appraisers[collection]
	if !ok {
		set = make(map[common.Address]bool)
		m.appraisers[collection] = set
	}
	set[appraiser] = true
	return nil
}

func (m *MemStore) RevokeAppraiser(_ context.Context, appraiser common.Address, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.appraisers[collection]
	if !ok || !set[appraiser] {
		return protocol.ErrNotFound
	}
	set[appraiser] = false
	return nil
}

func (m *MemStore) IsAuthorizedAppraiser(_ context.Context, appraiser common.Address, collection string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appraisers[collection][appraiser], nil
}

func (m *MemStore) CountAppraisers(_ context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, active := range m.appraisers[collection] {
		if active {
			count++
		}
	}
	return count, nil
}

func (m *MemStore) CreateAppraisalRequest(_ context.Context, req AppraisalRequest) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAppraisalID++
	req.ID = m.nextAppraisalID
	req.Status = AppraisalPending
	req.Submissions = nil
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	m.appraisals[req.ID] = &req
	return req.ID, nil
}

func (m *MemStore) GetAppraisalRequest(_ context.Context, id uint64) (AppraisalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.appraisals[id]
	if !ok {
		return AppraisalRequest{}, protocol.ErrNotFound
	}
	return copyAppraisal(req), nil
}

func (m *MemStore) AppendSubmission(_ context.Context, id uint64, sub Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.appraisals[id]
	if !ok {
		return protocol.ErrNotFound
	}
	for _, existing := range req.Submissions {
		if existing.Appraiser == sub.Appraiser {
			return protocol.ErrDuplicateSubmission
		}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	req.Submissions = append(req.Submissions, sub)
	return nil
}

func (m *MemStore) FinalizeAppraisal(_ context.Context, id uint64, finalValue uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.appraisals[id]
	if !ok {
		return protocol.ErrNotFound
	}
	if req.Status != AppraisalPending {
		return protocol.ErrAlreadyFinalized
	}
	req.Status = AppraisalCompleted
	req.FinalValue = &finalValue
	return nil
}

func (m *MemStore) ExpireAppraisal(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.appraisals[id]
	if !ok {
		return protocol.ErrNotFound
	}
	if req.Status != AppraisalPending {
		return protocol.ErrAlreadyFinalized
	}
	req.Status = AppraisalExpired
	return nil
}

func (m *MemStore) LatestCompletedAppraisal(_ context.Context, collection, itemID string) (AppraisalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *AppraisalRequest
	for _, req := range m.appraisals {
		if req.Collection != collection || req.ItemID != itemID || req.Status != AppraisalCompleted {
			continue
		}
		if latest == nil || req.ID > latest.ID {
			latest = req
		}
	}
	if latest == nil {
		return AppraisalRequest{}, protocol.ErrNotFound
	}
	return copyAppraisal(latest), nil
}

func (m *MemStore) ListRecentAppraisals(_ context.Context, limit int) ([]AppraisalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := make([]AppraisalRequest, 0, len(m.appraisals))
	for _, req := range m.appraisals {
		reqs = append(reqs, copyAppraisal(req))
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID > reqs[j].ID })
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	return reqs, nil
}

func (m *MemStore) ListPendingAppraisals(_ context.Context) ([]AppraisalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := make([]AppraisalRequest, 0)
	for _, req := range m.appraisals {
		if req.Status == AppraisalPending {
			reqs = append(reqs, copyAppraisal(req))
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	return reqs, nil
}

func copyAppraisal(req *AppraisalRequest) AppraisalRequest {
	out := *req
	out.Submissions = append([]Submission(nil), req.Submissions...)
	if req.FinalValue != nil {
		value := *req.FinalValue
		out.FinalValue = &value
	}
	return out
}

func (m *MemStore) CreateLoan(_ context.Context, loan Loan) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLoanID++
	loan.ID = m.nextLoanID
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now().UTC()
	}
	m.loans[loan.ID] = &loan
	return loan.ID, nil
}

func (m *MemStore) GetLoan(_ context.Context, id uint64) (Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return Loan{}, protocol.ErrNotFound
	}
	return *loan, nil
}

func (m *MemStore) SetLoanState(_ context.Context, id uint64, state LoanState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return protocol.ErrNotFound
	}
	loan.State = state
	return nil
}

func (m *MemStore) ListRecentLoans(_ context.Context, limit int) ([]Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loans := make([]Loan, 0, len(m.loans))
	for _, loan := range m.loans {
		loans = append(loans, *loan)
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID > loans[j].ID })
	if limit > 0 && len(loans) > limit {
		loans = loans[:limit]
	}
	return loans, nil
}

func (m *MemStore) CreateOracle(_ context.Context, o Oracle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.oracles[o.ID]; ok {
		return protocol.ErrAlreadyExists
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.oracles[o.ID] = &o
	return nil
}

func (m *MemStore) GetOracle(_ context.Context, id string) (Oracle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.oracles[id]
	if !ok {
		return Oracle{}, protocol.ErrNotFound
	}
	return *o, nil
}

func (m *MemStore) SetOracleTimestamp(_ context.Context, id string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.oracles[id]
	if !ok {
		return protocol.ErrNotFound
	}
	o.LastTimestamp = ts
	return nil
}

func (m *MemStore) CreateRiskProfile(_ context.Context, p RiskProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return protocol.ErrAlreadyExists
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.profiles[p.ID] = p
	return nil
}

func (m *MemStore) GetRiskProfile(_ context.Context, id uint64) (RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return RiskProfile{}, protocol.ErrNotFound
	}
	return p, nil
}

func (m *MemStore) AppendOracleData(_ context.Context, point OracleDataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if point.CreatedAt.IsZero() {
		point.CreatedAt = time.Now().UTC()
	}
	m.oracleData = append(m.oracleData, point)
	return nil
}

func (m *MemStore) LatestOracleData(_ context.Context, perilType, location string) (OracleDataPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *OracleDataPoint
	for i := range m.oracleData {
		point := &m.oracleData[i]
		if point.PerilType != perilType || point.Location != location {
			continue
		}
		if latest == nil || point.Timestamp > latest.Timestamp {
			latest = point
		}
	}
	if latest == nil {
		return OracleDataPoint{}, protocol.ErrNotFound
	}
	return *latest, nil
}

func (m *MemStore) ListOracleDataBetween(_ context.Context, perilType, location string, from, to int64) ([]OracleDataPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	points := make([]OracleDataPoint, 0)
	for _, point := range m.oracleData {
		if point.PerilType != perilType || point.Location != location {
			continue
		}
		if point.Timestamp < from || point.Timestamp >= to {
			continue
		}
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points, nil
}

func (m *MemStore) CreatePolicy(_ context.Context, p Policy) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPolicyID++
	p.ID = m.nextPolicyID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.policies[p.ID] = &p
	return p.ID, nil
}

func (m *MemStore) GetPolicy(_ context.Context, id uint64) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return Policy{}, protocol.ErrNotFound
	}
	return *p, nil
}

func (m *MemStore) SetPolicyStatus(_ context.Context, id uint64, status PolicyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return protocol.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *MemStore) ListPoliciesByStatus(_ context.Context, status PolicyStatus) ([]Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	policies := make([]Policy, 0)
	for _, p := range m.policies {
		if p.Status == status {
			policies = append(policies, *p)
		}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
	return policies, nil
}

func (m *MemStore) InsertClaimAlert(_ context.Context, alert ClaimAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alert.PolicyID]; ok {
		return false, nil
	}
	m.nextAlertID++
	alert.ID = m.nextAlertID
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	m.alerts[alert.PolicyID] = alert
	return true, nil
}

func (m *MemStore) ListRecentClaimAlerts(_ context.Context, limit int) ([]ClaimAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alerts := make([]ClaimAlert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		alerts = append(alerts, alert)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID > alerts[j].ID })
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// TryAdvisoryLock always succeeds for the in-memory backend; exclusion across
// processes only matters when state is shared through postgres.
func (m *MemStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	return func() {}, true, nil
}

var (
	_ Backend        = (*MemStore)(nil)
	_ AdvisoryLocker = (*MemStore)(nil)
)
