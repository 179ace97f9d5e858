package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"lendsure/internal/protocol"
)

const (
	insertCollectionSQL = `INSERT INTO collections (
        name, nft_contract, metadata_uri, max_ltv_bps, min_rate_bps,
        max_rate_bps, curve_kind, rarity_tiers, min_value, max_value
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`

	getCollectionSQL = `SELECT
        name, nft_contract, metadata_uri, max_ltv_bps, min_rate_bps,
        max_rate_bps, curve_kind, rarity_tiers, min_value, max_value, created_at
    FROM collections WHERE name = $1;`

	upsertAppraiserSQL = `INSERT INTO appraisers (appraiser, collection_name, active)
    VALUES ($1, $2, TRUE)
    ON CONFLICT (appraiser, collection_name) DO UPDATE SET active = TRUE;`

	revokeAppraiserSQL = `UPDATE appraisers SET active = FALSE
    WHERE appraiser = $1 AND collection_name = $2;`

	isAppraiserSQL = `SELECT active FROM appraisers
    WHERE appraiser = $1 AND collection_name = $2;`

	countAppraisersSQL = `SELECT COUNT(*) FROM appraisers
    WHERE collection_name = $1 AND active;`

	insertAppraisalSQL = `INSERT INTO appraisal_requests (
        collection_name, item_id, status, created_at_height
    ) VALUES ($1,$2,$3,$4) RETURNING id;`

	getAppraisalSQL = `SELECT
        id, collection_name, item_id, status, final_value, created_at_height, created_at
    FROM appraisal_requests WHERE id = $1;`

	listSubmissionsSQL = `SELECT appraiser, value, created_at
    FROM appraisal_submissions WHERE request_id = $1 ORDER BY created_at;`

	insertSubmissionSQL = `INSERT INTO appraisal_submissions (request_id, appraiser, value)
    VALUES ($1,$2,$3);`

	finalizeAppraisalSQL = `UPDATE appraisal_requests
    SET status = 'completed', final_value = $2
    WHERE id = $1 AND status = 'pending';`

	expireAppraisalSQL = `UPDATE appraisal_requests
    SET status = 'expired'
    WHERE id = $1 AND status = 'pending';`

	latestCompletedAppraisalSQL = `SELECT
        id, collection_name, item_id, status, final_value, created_at_height, created_at
    FROM appraisal_requests
    WHERE collection_name = $1 AND item_id = $2 AND status = 'completed'
    ORDER BY id DESC LIMIT 1;`

	listRecentAppraisalsSQL = `SELECT
        id, collection_name, item_id, status, final_value, created_at_height, created_at
    FROM appraisal_requests ORDER BY id DESC LIMIT $1;`

	listPendingAppraisalsSQL = `SELECT
        id, collection_name, item_id, status, final_value, created_at_height, created_at
    FROM appraisal_requests WHERE status = 'pending' ORDER BY id;`

	insertLoanSQL = `INSERT INTO loans (
        borrower, collection_name, item_id, amount, rate_bps,
        duration_blocks, state, start_height
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id;`

	getLoanSQL = `SELECT
        id, borrower, collection_name, item_id, amount, rate_bps,
        duration_blocks, state, start_height, created_at
    FROM loans WHERE id = $1;`

	setLoanStateSQL = `UPDATE loans SET state = $2 WHERE id = $1;`

	listRecentLoansSQL = `SELECT
        id, borrower, collection_name, item_id, amount, rate_bps,
        duration_blocks, state, start_height, created_at
    FROM loans ORDER BY id DESC LIMIT $1;`

	insertOracleSQL = `INSERT INTO oracles (id, name, peril_type, active, last_timestamp)
    VALUES ($1,$2,$3,$4,0);`

	getOracleSQL = `SELECT id, name, peril_type, active, last_timestamp, created_at
    FROM oracles WHERE id = $1;`

	setOracleTimestampSQL = `UPDATE oracles SET last_timestamp = $2 WHERE id = $1;`

	insertRiskProfileSQL = `INSERT INTO risk_profiles (id, peril_type, base_rate_bps, adjustments)
    VALUES ($1,$2,$3,$4);`

	getRiskProfileSQL = `SELECT id, peril_type, base_rate_bps, adjustments, created_at
    FROM risk_profiles WHERE id = $1;`

	insertOracleDataSQL = `INSERT INTO oracle_data (oracle_id, peril_type, location, magnitude, ts)
    VALUES ($1,$2,$3,$4,$5);`

	latestOracleDataSQL = `SELECT oracle_id, peril_type, location, magnitude, ts, created_at
    FROM oracle_data WHERE peril_type = $1 AND location = $2
    ORDER BY ts DESC LIMIT 1;`

	listOracleDataBetweenSQL = `SELECT oracle_id, peril_type, location, magnitude, ts, created_at
    FROM oracle_data
    WHERE peril_type = $1 AND location = $2 AND ts >= $3 AND ts < $4
    ORDER BY ts;`

	insertPolicySQL = `INSERT INTO policies (
        insured, coverage_amount, peril_type, location, premium_paid,
        trigger_threshold, status, start_height, duration_blocks, start_ts
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id;`

	getPolicySQL = `SELECT
        id, insured, coverage_amount, peril_type, location, premium_paid,
        trigger_threshold, status, start_height, duration_blocks, start_ts, created_at
    FROM policies WHERE id = $1;`

	setPolicyStatusSQL = `UPDATE policies SET status = $2 WHERE id = $1;`

	listPoliciesByStatusSQL = `SELECT
        id, insured, coverage_amount, peril_type, location, premium_paid,
        trigger_threshold, status, start_height, duration_blocks, start_ts, created_at
    FROM policies WHERE status = $1 ORDER BY id;`

	insertClaimAlertSQL = `INSERT INTO claim_alerts (policy_id, peril_type, location, magnitude, ts)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (policy_id) DO NOTHING;`

	listRecentClaimAlertsSQL = `SELECT id, policy_id, peril_type, location, magnitude, ts, created_at
    FROM claim_alerts ORDER BY created_at DESC LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

const pgUniqueViolation = "23505"

// Store is the PostgreSQL-backed Backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func mapPgError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return protocol.ErrAlreadyExists
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateCollection inserts a new collection record.
func (s *Store) CreateCollection(ctx context.Context, c Collection) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertCollectionSQL,
		c.Name,
		c.NFTContract.Hex(),
		c.MetadataURI,
		int64(c.MaxLTVBps),
		int64(c.MinRateBps),
		int64(c.MaxRateBps),
		c.CurveKind,
		c.RarityTiers,
		int64(c.MinValue),
		int64(c.MaxValue),
	)
	if execErr != nil {
		return mapPgError(execErr, "create collection")
	}
	return nil
}

// GetCollection fetches a collection by name.
func (s *Store) GetCollection(ctx context.Context, name string) (Collection, error) {
	pool, err := s.getPool()
	if err != nil {
		return Collection{}, err
	}

	var (
		c                                             Collection
		nftContract                                   string
		maxLTV, minRate, maxRate, minValue, maxValue  int64
	)
	row := pool.QueryRow(ctx, getCollectionSQL, name)
	if scanErr := row.Scan(
		&c.Name, &nftContract, &c.MetadataURI, &maxLTV, &minRate,
		&maxRate, &c.CurveKind, &c.RarityTiers, &minValue, &maxValue, &c.CreatedAt,
	); scanErr != nil {
		return Collection{}, mapPgError(scanErr, "get collection")
	}

	c.NFTContract = common.HexToAddress(nftContract)
	c.MaxLTVBps = uint64(maxLTV)
	c.MinRateBps = uint64(minRate)
	c.MaxRateBps = uint64(maxRate)
	c.MinValue = uint64(minValue)
	c.MaxValue = uint64(maxValue)
	return c, nil
}

// AuthorizeAppraiser marks an appraiser active for a collection. Idempotent.
func (s *Store) AuthorizeAppraiser(ctx context.Context, appraiser common.Address, collection string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertAppraiserSQL, appraiser.Hex(), collection); execErr != nil {
		return mapPgError(execErr, "authorize appraiser")
	}
	return nil
}

// RevokeAppraiser deactivates an appraiser for a collection.
func (s *Store) RevokeAppraiser(ctx context.Context, appraiser common.Address, collection string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, revokeAppraiserSQL, appraiser.Hex(), collection)
	if execErr != nil {
		return mapPgError(execErr, "revoke appraiser")
	}
	if cmdTag.RowsAffected() == 0 {
		return protocol.ErrNotFound
	}
	return nil
}

// IsAuthorizedAppraiser reports whether the appraiser is active for the collection.
func (s *Store) IsAuthorizedAppraiser(ctx context.Context, appraiser common.Address, collection string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var active bool
	scanErr := pool.QueryRow(ctx, isAppraiserSQL, appraiser.Hex(), collection).Scan(&active)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return false, nil
	}
	if scanErr != nil {
		return false, fmt.Errorf("is authorized appraiser: %w", scanErr)
	}
	return active, nil
}

// CountAppraisers counts active appraisers for a collection.
func (s *Store) CountAppraisers(ctx context.Context, collection string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int
	if scanErr := pool.QueryRow(ctx, countAppraisersSQL, collection).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count appraisers: %w", scanErr)
	}
	return count, nil
}

// CreateAppraisalRequest inserts a pending request and returns its id.
func (s *Store) CreateAppraisalRequest(ctx context.Context, req AppraisalRequest) (uint64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	scanErr := pool.QueryRow(ctx, insertAppraisalSQL,
		req.Collection, req.ItemID, string(AppraisalPending), int64(req.CreatedAtHeight),
	).Scan(&id)
	if scanErr != nil {
		return 0, mapPgError(scanErr, "create appraisal request")
	}
	return uint64(id), nil
}

// GetAppraisalRequest fetches a request together with its submissions.
func (s *Store) GetAppraisalRequest(ctx context.Context, id uint64) (AppraisalRequest, error) {
	pool, err := s.getPool()
	if err != nil {
		return AppraisalRequest{}, err
	}

	req, scanErr := scanAppraisal(pool.QueryRow(ctx, getAppraisalSQL, int64(id)))
	if scanErr != nil {
		return AppraisalRequest{}, mapPgError(scanErr, "get appraisal request")
	}

	rows, queryErr := pool.Query(ctx, listSubmissionsSQL, int64(id))
	if queryErr != nil {
		return AppraisalRequest{}, fmt.Errorf("list submissions: %w", queryErr)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			appraiser string
			value     int64
			createdAt time.Time
		)
		if err := rows.Scan(&appraiser, &value, &createdAt); err != nil {
			return AppraisalRequest{}, err
		}
		req.Submissions = append(req.Submissions, Submission{
			Appraiser: common.HexToAddress(appraiser),
			Value:     uint64(value),
			CreatedAt: createdAt,
		})
	}
	if rows.Err() != nil {
		return AppraisalRequest{}, rows.Err()
	}
	return req, nil
}

// AppendSubmission records one appraiser's value for a request.
func (s *Store) AppendSubmission(ctx context.Context, id uint64, sub Submission) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertSubmissionSQL, int64(id), sub.Appraiser.Hex(), int64(sub.Value))
	if execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == pgUniqueViolation {
			return protocol.ErrDuplicateSubmission
		}
		return fmt.Errorf("append submission: %w", execErr)
	}
	return nil
}

// FinalizeAppraisal completes a pending request with its canonical value.
// The WHERE status guard makes the transition one-shot.
func (s *Store) FinalizeAppraisal(ctx context.Context, id uint64, finalValue uint64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, finalizeAppraisalSQL, int64(id), int64(finalValue))
	if execErr != nil {
		return fmt.Errorf("finalize appraisal: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return protocol.ErrAlreadyFinalized
	}
	return nil
}

// ExpireAppraisal marks a pending request expired.
func (s *Store) ExpireAppraisal(ctx context.Context, id uint64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, expireAppraisalSQL, int64(id))
	if execErr != nil {
		return fmt.Errorf("expire appraisal: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return protocol.ErrAlreadyFinalized
	}
	return nil
}

// LatestCompletedAppraisal returns the newest completed request for an item.
func (s *Store) LatestCompletedAppraisal(ctx context.Context, collection, itemID string) (AppraisalRequest, error) {
	pool, err := s.getPool()
	if err != nil {
		return AppraisalRequest{}, err
	}
	req, scanErr := scanAppraisal(pool.QueryRow(ctx, latestCompletedAppraisalSQL, collection, itemID))
	if scanErr != nil {
		return AppraisalRequest{}, mapPgError(scanErr, "latest completed appraisal")
	}
	return req, nil
}

// ListRecentAppraisals lists the most recent requests without submissions.
func (s *Store) ListRecentAppraisals(ctx context.Context, limit int) ([]AppraisalRequest, error) {
	return s.listAppraisals(ctx, listRecentAppraisalsSQL, limit)
}

// ListPendingAppraisals lists all pending requests, oldest first.
func (s *Store) ListPendingAppraisals(ctx context.Context) ([]AppraisalRequest, error) {
	return s.listAppraisals(ctx, listPendingAppraisalsSQL)
}

func (s *Store) listAppraisals(ctx context.Context, sql string, args ...any) ([]AppraisalRequest, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list appraisals: %w", queryErr)
	}
	defer rows.Close()

	reqs := make([]AppraisalRequest, 0)
	for rows.Next() {
		req, scanErr := scanAppraisal(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		reqs = append(reqs, req)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return reqs, nil
}

func scanAppraisal(row pgx.Row) (AppraisalRequest, error) {
	var (
		req        AppraisalRequest
		id, height int64
		status     string
		finalValue *int64
	)
	if err := row.Scan(&id, &req.Collection, &req.ItemID, &status, &finalValue, &height, &req.CreatedAt); err != nil {
		return AppraisalRequest{}, err
	}
	req.ID = uint64(id)
	req.Status = AppraisalStatus(status)
	req.CreatedAtHeight = uint64(height)
	if finalValue != nil {
		value := uint64(*finalValue)
		req.FinalValue = &value
	}
	return req, nil
}

// CreateLoan inserts a loan and returns its id.
func (s *Store) CreateLoan(ctx context.Context, loan Loan) (uint64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	scanErr := pool.QueryRow(ctx, insertLoanSQL,
		loan.Borrower.Hex(),
		loan.Collection,
		loan.ItemID,
		int64(loan.Amount),
		int64(loan.RateBps),
		int64(loan.DurationBlocks),
		int16(loan.State),
		int64(loan.StartHeight),
	).Scan(&id)
	if scanErr != nil {
		return 0, mapPgError(scanErr, "create loan")
	}
	return uint64(id), nil
}

// GetLoan fetches a loan by id.
func (s *Store) GetLoan(ctx context.Context, id uint64) (Loan, error) {
	pool, err := s.getPool()
	if err != nil {
		return Loan{}, err
	}
	loan, scanErr := scanLoan(pool.QueryRow(ctx, getLoanSQL, int64(id)))
	if scanErr != nil {
		return Loan{}, mapPgError(scanErr, "get loan")
	}
	return loan, nil
}

// SetLoanState updates a loan's lifecycle state.
func (s *Store) SetLoanState(ctx context.Context, id uint64, state LoanState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, setLoanStateSQL, int64(id), int16(state))
	if execErr != nil {
		return fmt.Errorf("set loan state: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return protocol.ErrNotFound
	}
	return nil
}

// ListRecentLoans lists the most recent loans.
func (s *Store) ListRecentLoans(ctx context.Context, limit int) ([]Loan, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentLoansSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent loans: %w", queryErr)
	}
	defer rows.Close()

	loans := make([]Loan, 0, limit)
	for rows.Next() {
		loan, scanErr := scanLoan(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		loans = append(loans, loan)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return loans, nil
}

func scanLoan(row pgx.Row) (Loan, error) {
	var (
		loan                                      Loan
		id, amount, rate, duration, start         int64
		borrower                                  string
		state                                     int16
	)
	if err := row.Scan(&id, &borrower, &loan.Collection, &loan.ItemID, &amount,
		&rate, &duration, &state, &start, &loan.CreatedAt); err != nil {
		return Loan{}, err
	}
	loan.ID = uint64(id)
	loan.Borrower = common.HexToAddress(borrower)
	loan.Amount = uint64(amount)
	loan.RateBps = uint64(rate)
	loan.DurationBlocks = uint64(duration)
	loan.State = LoanState(state)
	loan.StartHeight = uint64(start)
	return loan, nil
}

// CreateOracle inserts a new oracle record.
func (s *Store) CreateOracle(ctx context.Context, o Oracle) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertOracleSQL, o.ID, o.Name, o.PerilType, o.Active); execErr != nil {
		return mapPgError(execErr, "create oracle")
	}
	return nil
}

// GetOracle fetches an oracle by id.
func (s *Store) GetOracle(ctx context.Context, id string) (Oracle, error) {
	pool, err := s.getPool()
	if err != nil {
		return Oracle{}, err
	}
	var o Oracle
	scanErr := pool.QueryRow(ctx, getOracleSQL, id).Scan(
		&o.ID, &o.Name, &o.PerilType, &o.Active, &o.LastTimestamp, &o.CreatedAt)
	if scanErr != nil {
		return Oracle{}, mapPgError(scanErr, "get oracle")
	}
	return o, nil
}

// SetOracleTimestamp advances the replay-protection watermark.
func (s *Store) SetOracleTimestamp(ctx context.Context, id string, ts int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, setOracleTimestampSQL, id, ts)
	if execErr != nil {
		return fmt.Errorf("set oracle timestamp: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return protocol.ErrNotFound
	}
	return nil
}

// CreateRiskProfile inserts static pricing reference data.
func (s *Store) CreateRiskProfile(ctx context.Context, p RiskProfile) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	adjustments, marshalErr := json.Marshal(p.Adjustments)
	if marshalErr != nil {
		return fmt.Errorf("marshal adjustments: %w", marshalErr)
	}
	_, execErr := pool.Exec(ctx, insertRiskProfileSQL, int64(p.ID), p.PerilType, int64(p.BaseRateBps), adjustments)
	if execErr != nil {
		return mapPgError(execErr, "create risk profile")
	}
	return nil
}

// GetRiskProfile fetches a risk profile by id.
func (s *Store) GetRiskProfile(ctx context.Context, id uint64) (RiskProfile, error) {
	pool, err := s.getPool()
	if err != nil {
		return RiskProfile{}, err
	}
	var (
		p           RiskProfile
		pid, base   int64
		adjustments []byte
	)
	scanErr := pool.QueryRow(ctx, getRiskProfileSQL, int64(id)).Scan(
		&pid, &p.PerilType, &base, &adjustments, &p.CreatedAt)
	if scanErr != nil {
		return RiskProfile{}, mapPgError(scanErr, "get risk profile")
	}
	p.ID = uint64(pid)
	p.BaseRateBps = uint64(base)
	if err := json.Unmarshal(adjustments, &p.Adjustments); err != nil {
		return RiskProfile{}, fmt.Errorf("unmarshal adjustments: %w", err)
	}
	return p, nil
}

// AppendOracleData records one pushed observation.
func (s *Store) AppendOracleData(ctx context.Context, point OracleDataPoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertOracleDataSQL,
		point.OracleID, point.PerilType, point.Location, point.Magnitude.String(), point.Timestamp)
	if execErr != nil {
		return fmt.Errorf("append oracle data: %w", execErr)
	}
	return nil
}

// LatestOracleData returns the most recent observation for a peril and location.
func (s *Store) LatestOracleData(ctx context.Context, perilType, location string) (OracleDataPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return OracleDataPoint{}, err
	}
	point, scanErr := scanOracleData(pool.QueryRow(ctx, latestOracleDataSQL, perilType, location))
	if scanErr != nil {
		return OracleDataPoint{}, mapPgError(scanErr, "latest oracle data")
	}
	return point, nil
}

// ListOracleDataBetween lists observations within a timestamp window.
func (s *Store) ListOracleDataBetween(ctx context.Context, perilType, location string, from, to int64) ([]OracleDataPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listOracleDataBetweenSQL, perilType, location, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list oracle data between: %w", queryErr)
	}
	defer rows.Close()

	points := make([]OracleDataPoint, 0)
	for rows.Next() {
		point, scanErr := scanOracleData(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

func scanOracleData(row pgx.Row) (OracleDataPoint, error) {
	var (
		point        OracleDataPoint
		magnitudeStr string
	)
	if err := row.Scan(&point.OracleID, &point.PerilType, &point.Location,
		&magnitudeStr, &point.Timestamp, &point.CreatedAt); err != nil {
		return OracleDataPoint{}, err
	}
	magnitude, convErr := decimal.NewFromString(magnitudeStr)
	if convErr != nil {
		return OracleDataPoint{}, fmt.Errorf("parse magnitude: %w", convErr)
	}
	point.Magnitude = magnitude
	return point, nil
}

// CreatePolicy inserts a policy and returns its id.
func (s *Store) CreatePolicy(ctx context.Context, p Policy) (uint64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	scanErr := pool.QueryRow(ctx, insertPolicySQL,
		p.Insured.Hex(),
		int64(p.CoverageAmount),
		p.PerilType,
		p.Location,
		int64(p.PremiumPaid),
		p.TriggerThreshold.String(),
		string(p.Status),
		int64(p.StartHeight),
		int64(p.DurationBlocks),
		p.StartTimestamp,
	).Scan(&id)
	if scanErr != nil {
		return 0, mapPgError(scanErr, "create policy")
	}
	return uint64(id), nil
}

// GetPolicy fetches a policy by id.
func (s *Store) GetPolicy(ctx context.Context, id uint64) (Policy, error) {
	pool, err := s.getPool()
	if err != nil {
		return Policy{}, err
	}
	p, scanErr := scanPolicy(pool.QueryRow(ctx, getPolicySQL, int64(id)))
	if scanErr != nil {
		return Policy{}, mapPgError(scanErr, "get policy")
	}
	return p, nil
}

// SetPolicyStatus updates a policy's lifecycle status.
func (s *Store) SetPolicyStatus(ctx context.Context, id uint64, status PolicyStatus) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, setPolicyStatusSQL, int64(id), string(status))
	if execErr != nil {
		return fmt.Errorf("set policy status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return protocol.ErrNotFound
	}
	return nil
}

// ListPoliciesByStatus lists policies in a given status.
func (s *Store) ListPoliciesByStatus(ctx context.Context, status PolicyStatus) ([]Policy, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPoliciesByStatusSQL, string(status))
	if queryErr != nil {
		return nil, fmt.Errorf("list policies by status: %w", queryErr)
	}
	defer rows.Close()

	policies := make([]Policy, 0)
	for rows.Next() {
		p, scanErr := scanPolicy(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		policies = append(policies, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return policies, nil
}

func scanPolicy(row pgx.Row) (Policy, error) {
	var (
		p                                       Policy
		id, coverage, premium, start, duration  int64
		insured, thresholdStr, status           string
	)
	if err := row.Scan(&id, &insured, &coverage, &p.PerilType, &p.Location,
		&premium, &thresholdStr, &status, &start, &duration, &p.StartTimestamp, &p.CreatedAt); err != nil {
		return Policy{}, err
	}
	threshold, convErr := decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return Policy{}, fmt.Errorf("parse trigger threshold: %w", convErr)
	}
	p.ID = uint64(id)
	p.Insured = common.HexToAddress(insured)
	p.CoverageAmount = uint64(coverage)
	p.PremiumPaid = uint64(premium)
	p.TriggerThreshold = threshold
	p.Status = PolicyStatus(status)
	p.StartHeight = uint64(start)
	p.DurationBlocks = uint64(duration)
	return p, nil
}

// InsertClaimAlert records a first-trigger observation. Returns false when an
// alert for the policy was already recorded.
func (s *Store) InsertClaimAlert(ctx context.Context, alert ClaimAlert) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	cmdTag, execErr := pool.Exec(ctx, insertClaimAlertSQL,
		int64(alert.PolicyID), alert.PerilType, alert.Location, alert.Magnitude.String(), alert.Timestamp)
	if execErr != nil {
		return false, fmt.Errorf("insert claim alert: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ListRecentClaimAlerts lists the most recent claim alerts.
func (s *Store) ListRecentClaimAlerts(ctx context.Context, limit int) ([]ClaimAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentClaimAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent claim alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]ClaimAlert, 0, limit)
	for rows.Next() {
		var (
			alert        ClaimAlert
			policyID     int64
			magnitudeStr string
		)
		if err := rows.Scan(&alert.ID, &policyID, &alert.PerilType, &alert.Location,
			&magnitudeStr, &alert.Timestamp, &alert.CreatedAt); err != nil {
			return nil, err
		}
		magnitude, convErr := decimal.NewFromString(magnitudeStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse magnitude: %w", convErr)
		}
		alert.PolicyID = uint64(policyID)
		alert.Magnitude = magnitude
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
