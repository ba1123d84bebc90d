// Package storage is the server's Postgres layer. It keeps workflow
// definitions, run history and runner liveness; matrix cell and step detail
// lives inside each run's JSON document rather than in rows of its own.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gantryci/gantry/pkg/helper"
	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/storage/models"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var db *sql.DB
var dbURI string
var log *logrus.Entry

func Connect(uri string) error {
	if log == nil {
		log = logger.InitLogger("info", "storage")
	}
	var err error
	dbURI = uri
	db, err = sql.Open("postgres", uri)
	if err != nil {
		log.Error(err)
		return err
	}
	if err = db.Ping(); err != nil {
		log.Error(err)
		return err
	}
	log.Info("connected to postgres")
	return nil
}

func Get() *sql.DB {
	if db == nil {
		Connect(dbURI)
	}
	return db
}

// Migrate creates the schema. Idempotent, runs at every server start.
func Migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			repo       TEXT NOT NULL DEFAULT '',
			raw_data   TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			run_seq    BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id            TEXT PRIMARY KEY,
			workflow_id   BIGINT NOT NULL,
			workflow_name TEXT NOT NULL,
			number        BIGINT NOT NULL,
			event         TEXT NOT NULL,
			status        TEXT NOT NULL,
			node          TEXT NOT NULL DEFAULT '',
			document      TEXT NOT NULL,
			created_at    BIGINT NOT NULL,
			started_at    BIGINT NOT NULL DEFAULT 0,
			finished_at   BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS runs_workflow_idx ON runs (workflow_id, number DESC)`,
		`CREATE TABLE IF NOT EXISTS runners (
			node      TEXT PRIMARY KEY,
			version   TEXT NOT NULL DEFAULT '',
			capacity  INT NOT NULL DEFAULT 0,
			last_seen BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hook_deliveries (
			delivery_id TEXT PRIMARY KEY,
			event       TEXT NOT NULL,
			created_at  BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := Get().Exec(stmt); err != nil {
			log.Error(err)
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveWorkflow inserts the workflow or, when the name already exists,
// replaces its definition. Apply is an upsert by design.
func SaveWorkflow(m *models.Workflow) (int64, error) {
	now := helper.UnixNow()
	query := `
		INSERT INTO workflows (name, repo, raw_data, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (name) DO UPDATE
		SET repo = $2, raw_data = $3, active = $4, updated_at = $5
		RETURNING id`

	var id int64
	err := Get().QueryRow(query, m.Name, m.Repo, m.RawData, m.Active, now).Scan(&id)
	if err != nil {
		log.Error(err)
		return 0, err
	}
	return id, nil
}

func scanWorkflow(row interface{ Scan(...any) error }) (*models.Workflow, error) {
	var m models.Workflow
	err := row.Scan(&m.ID, &m.Name, &m.Repo, &m.RawData, &m.Active, &m.RunSeq, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const workflowColumns = "id, name, repo, raw_data, active, run_seq, created_at, updated_at"

func GetWorkflow(id int64) (*models.Workflow, error) {
	row := Get().QueryRow("SELECT "+workflowColumns+" FROM workflows WHERE id = $1", id)
	return scanWorkflow(row)
}

func ListWorkflows() ([]*models.Workflow, error) {
	rows, err := Get().Query("SELECT " + workflowColumns + " FROM workflows ORDER BY name")
	if err != nil {
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		m, err := scanWorkflow(rows)
		if err != nil {
			log.Error(err)
			return nil, err
		}
		workflows = append(workflows, m)
	}
	return workflows, rows.Err()
}

// ActiveWorkflows returns the definitions the scheduler and webhook matcher
// consider. Inactive workflows keep their history but never trigger.
func ActiveWorkflows() ([]*models.Workflow, error) {
	rows, err := Get().Query("SELECT " + workflowColumns + " FROM workflows WHERE active ORDER BY name")
	if err != nil {
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		m, err := scanWorkflow(rows)
		if err != nil {
			log.Error(err)
			return nil, err
		}
		workflows = append(workflows, m)
	}
	return workflows, rows.Err()
}

func SetWorkflowActive(id int64, active bool) error {
	_, err := Get().Exec("UPDATE workflows SET active = $2, updated_at = $3 WHERE id = $1",
		id, active, helper.UnixNow())
	if err != nil {
		log.Error(err)
	}
	return err
}

// DeleteWorkflow removes the definition and its run history.
func DeleteWorkflow(id int64) error {
	tx, err := Get().Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE workflow_id = $1", id); err != nil {
		tx.Rollback()
		log.Error(err)
		return err
	}
	if _, err := tx.Exec("DELETE FROM workflows WHERE id = $1", id); err != nil {
		tx.Rollback()
		log.Error(err)
		return err
	}
	return tx.Commit()
}

// NextRunNumber reserves the next per-workflow run number.
func NextRunNumber(workflowID int64) (int64, error) {
	var n int64
	err := Get().QueryRow(
		"UPDATE workflows SET run_seq = run_seq + 1 WHERE id = $1 RETURNING run_seq",
		workflowID).Scan(&n)
	if err != nil {
		log.Error(err)
		return 0, err
	}
	return n, nil
}

func InsertRun(run *workflow.Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO runs (id, workflow_id, workflow_name, number, event, status, document, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = Get().Exec(query, run.ID, run.WorkflowID, run.WorkflowName, run.Number,
		run.Event.Kind, string(run.Status), string(doc), run.CreatedAt)
	if err != nil {
		log.Error(err)
	}
	return err
}

// SaveRun writes the mutated document and its denormalized columns back.
func SaveRun(run *workflow.Run, node string) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	query := `
		UPDATE runs
		SET status = $2, document = $3, started_at = $4, finished_at = $5, node = $6
		WHERE id = $1`

	_, err = Get().Exec(query, run.ID, string(run.Status), string(doc),
		run.StartedAt, run.FinishedAt, node)
	if err != nil {
		log.Error(err)
	}
	return err
}

func GetRun(id string) (*workflow.Run, error) {
	var doc string
	err := Get().QueryRow("SELECT document FROM runs WHERE id = $1", id).Scan(&doc)
	if err != nil {
		return nil, err
	}
	var run workflow.Run
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		log.Error(err)
		return nil, err
	}
	return &run, nil
}

func GetRunNode(id string) (string, error) {
	var node string
	err := Get().QueryRow("SELECT node FROM runs WHERE id = $1", id).Scan(&node)
	return node, err
}

// ListRuns returns run summaries, newest first. A zero workflowID lists
// every workflow's runs.
func ListRuns(workflowID int64, limit int) ([]*models.RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, workflow_id, workflow_name, number, event, status, node, created_at, started_at, finished_at
		FROM runs`
	args := []any{}
	if workflowID > 0 {
		query += " WHERE workflow_id = $1 ORDER BY created_at DESC, number DESC LIMIT $2"
		args = append(args, workflowID, limit)
	} else {
		query += " ORDER BY created_at DESC, number DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := Get().Query(query, args...)
	if err != nil {
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunSummary
	for rows.Next() {
		var m models.RunSummary
		err := rows.Scan(&m.ID, &m.WorkflowID, &m.WorkflowName, &m.Number, &m.Event,
			&m.Status, &m.Node, &m.CreatedAt, &m.StartedAt, &m.FinishedAt)
		if err != nil {
			log.Error(err)
			return nil, err
		}
		runs = append(runs, &m)
	}
	return runs, rows.Err()
}

func UpsertRunner(node, version string, capacity int, lastSeen int64) error {
	query := `
		INSERT INTO runners (node, version, capacity, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node) DO UPDATE
		SET version = $2, capacity = $3, last_seen = $4`

	_, err := Get().Exec(query, node, version, capacity, lastSeen)
	if err != nil {
		log.Error(err)
	}
	return err
}

func ListRunners() ([]*models.RunnerNode, error) {
	rows, err := Get().Query("SELECT node, version, capacity, last_seen FROM runners ORDER BY node")
	if err != nil {
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	var runners []*models.RunnerNode
	for rows.Next() {
		var m models.RunnerNode
		if err := rows.Scan(&m.Node, &m.Version, &m.Capacity, &m.LastSeen); err != nil {
			log.Error(err)
			return nil, err
		}
		runners = append(runners, &m)
	}
	return runners, rows.Err()
}

// InsertHookDelivery records a webhook delivery id. It reports false when
// the id was seen before, so redeliveries do not plan duplicate runs.
func InsertHookDelivery(deliveryID, event string) (bool, error) {
	res, err := Get().Exec(
		"INSERT INTO hook_deliveries (delivery_id, event, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		deliveryID, event, helper.UnixNow())
	if err != nil {
		log.Error(err)
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
