package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mecanolabs/jarvis/pkg/database"
	"github.com/mecanolabs/jarvis/pkg/models"
)

// workerColumns is the scan order shared by every worker query.
const workerColumns = `id, hostname, worker_name, worker_address, max_concurrent_agents,
	current_agents, capabilities, status, last_heartbeat_at, registered_at, updated_at`

// WorkerService is the persistent catalog of workers. It owns token
// minting: plaintext tokens are returned once and only their SHA-256 hash
// is stored.
type WorkerService struct {
	db *database.Client
}

// NewWorkerService creates a WorkerService.
func NewWorkerService(db *database.Client) *WorkerService {
	return &WorkerService{db: db}
}

// RegisterParams are the inputs to Register.
type RegisterParams struct {
	WorkerID            string
	Hostname            string
	WorkerName          string
	WorkerAddress       string
	MaxConcurrentAgents int
	Capabilities        []string
}

// Register creates or refreshes a worker row and mints a fresh auth token.
// Re-registration with a known id preserves identity but resets the load
// counter to zero (the worker restarted) and invalidates the prior token.
// The returned token is plaintext and is never stored.
func (s *WorkerService) Register(ctx context.Context, p RegisterParams) (*models.Worker, string, error) {
	if p.Hostname == "" {
		return nil, "", NewValidationError("hostname", "is required")
	}
	if p.MaxConcurrentAgents <= 0 {
		return nil, "", NewValidationError("max_concurrent_agents", "must be positive")
	}
	if p.WorkerID == "" {
		p.WorkerID = uuid.New().String()
	} else if _, err := uuid.Parse(p.WorkerID); err != nil {
		return nil, "", NewValidationError("worker_id", "must be a UUID")
	}
	if p.WorkerName == "" {
		p.WorkerName = p.Hostname
	}
	if p.Capabilities == nil {
		p.Capabilities = []string{}
	}

	token, err := mintToken()
	if err != nil {
		return nil, "", fmt.Errorf("mint auth token: %w", err)
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO workers (id, hostname, worker_name, worker_address, max_concurrent_agents,
			current_agents, capabilities, status, auth_token_hash, last_heartbeat_at, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, 'online', $7, now(), now(), now())
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			worker_name = EXCLUDED.worker_name,
			worker_address = EXCLUDED.worker_address,
			max_concurrent_agents = EXCLUDED.max_concurrent_agents,
			current_agents = 0,
			capabilities = EXCLUDED.capabilities,
			status = 'online',
			auth_token_hash = EXCLUDED.auth_token_hash,
			last_heartbeat_at = now(),
			updated_at = now()
		RETURNING `+workerColumns,
		p.WorkerID, p.Hostname, p.WorkerName, p.WorkerAddress,
		p.MaxConcurrentAgents, p.Capabilities, HashToken(token))

	worker, err := scanWorker(row)
	if err != nil {
		return nil, "", fmt.Errorf("register worker: %w", err)
	}
	return worker, token, nil
}

// Heartbeat records a liveness signal, updating load and status.
func (s *WorkerService) Heartbeat(ctx context.Context, workerID string, currentAgents int, status string) (*models.Worker, error) {
	if status != models.WorkerStatusOnline && status != models.WorkerStatusOffline {
		return nil, NewValidationError("status", "must be online or offline")
	}
	if currentAgents < 0 {
		return nil, NewValidationError("current_agents", "must be non-negative")
	}

	row := s.db.Pool().QueryRow(ctx, `
		UPDATE workers
		SET current_agents = $2, status = $3, last_heartbeat_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+workerColumns,
		workerID, currentAgents, status)

	worker, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("heartbeat worker %s: %w", workerID, err)
	}
	return worker, nil
}

// Deregister marks a worker offline. The row is never deleted; a later
// register with the same id revives it.
func (s *WorkerService) Deregister(ctx context.Context, workerID string) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE workers SET status = 'offline', updated_at = now() WHERE id = $1`,
		workerID)
	if err != nil {
		return fmt.Errorf("deregister worker %s: %w", workerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all workers, optionally filtered by status.
func (s *WorkerService) List(ctx context.Context, statusFilter string) ([]*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers ORDER BY registered_at ASC`
	args := []any{}
	if statusFilter != "" {
		query = `SELECT ` + workerColumns + ` FROM workers WHERE status = $1 ORDER BY registered_at ASC`
		args = append(args, statusFilter)
	}

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// Get returns one worker by id.
func (s *WorkerService) Get(ctx context.Context, workerID string) (*models.Worker, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = $1`, workerID)
	worker, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get worker %s: %w", workerID, err)
	}
	return worker, nil
}

// AuthenticateToken resolves a plaintext bearer token to the worker holding
// its hash. Comparison is by hash equality only.
func (s *WorkerService) AuthenticateToken(ctx context.Context, token string) (*models.Worker, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE auth_token_hash = $1`, HashToken(token))
	worker, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("authenticate token: %w", err)
	}
	return worker, nil
}

// FindAvailable selects the online worker with free capacity and the lowest
// load. Ties break by oldest registration for deterministic dispatch.
func (s *WorkerService) FindAvailable(ctx context.Context) (*models.Worker, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT `+workerColumns+` FROM workers
		WHERE status = 'online' AND current_agents < max_concurrent_agents
		ORDER BY current_agents ASC, registered_at ASC
		LIMIT 1`)
	worker, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find available worker: %w", err)
	}
	return worker, nil
}

// StaleWorkers returns non-offline workers whose last heartbeat is older
// than the cutoff.
func (s *WorkerService) StaleWorkers(ctx context.Context, cutoff time.Time) ([]*models.Worker, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+workerColumns+` FROM workers
		WHERE status <> 'offline' AND last_heartbeat_at < $1
		ORDER BY last_heartbeat_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query stale workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// TouchHeartbeat refreshes last_heartbeat_at without changing load or
// status. Used by the reaper after a successful direct health ping.
func (s *WorkerService) TouchHeartbeat(ctx context.Context, workerID string) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE workers SET last_heartbeat_at = now(), updated_at = now() WHERE id = $1`,
		workerID)
	if err != nil {
		return fmt.Errorf("touch heartbeat for worker %s: %w", workerID, err)
	}
	return nil
}

// MarkOffline sets a worker's status to offline.
func (s *WorkerService) MarkOffline(ctx context.Context, workerID string) error {
	_, err := s.db.Pool().Exec(ctx, `
		UPDATE workers SET status = 'offline', updated_at = now() WHERE id = $1`,
		workerID)
	if err != nil {
		return fmt.Errorf("mark worker %s offline: %w", workerID, err)
	}
	return nil
}

// mintToken returns a fresh 32-byte random token, hex encoded.
func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hex digest of a plaintext token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func scanWorker(row pgx.Row) (*models.Worker, error) {
	var w models.Worker
	err := row.Scan(&w.ID, &w.Hostname, &w.WorkerName, &w.WorkerAddress,
		&w.MaxConcurrentAgents, &w.CurrentAgents, &w.Capabilities, &w.Status,
		&w.LastHeartbeatAt, &w.RegisteredAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWorkers(rows pgx.Rows) ([]*models.Worker, error) {
	workers := []*models.Worker{}
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate worker rows: %w", err)
	}
	return workers, nil
}
