// Package neo4jqueue implements jobqueue.Queue against :EmbedJob nodes in
// an isolated Neo4j database, grounded on
// eve.evalgo.org/db/repository/neo4j.go's session/ExecuteWrite idiom and
// on queue/redis/queue.go's Job lifecycle naming. Unlike neo4jstore, this
// package targets the JOB_DB_NAME database: two logically separate
// databases on the same cluster.
package neo4jqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"eve.evalgo.org/memory/internal/jobqueue"
	"eve.evalgo.org/memory/internal/model"
)

// Queue implements jobqueue.Queue against one Neo4j database.
type Queue struct {
	driver   neo4j.DriverWithContext
	database string
	now      func() time.Time
}

// New creates a Queue and verifies connectivity.
func New(uri, username, password, database string) (*Queue, error) {
	ctx := context.Background()
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, err
	}
	return &Queue{driver: driver, database: database, now: time.Now}, nil
}

// Close releases the underlying driver's connection pool.
func (q *Queue) Close(ctx context.Context) error { return q.driver.Close(ctx) }

var _ jobqueue.Queue = (*Queue)(nil)

func (q *Queue) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return q.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: q.database})
}

func (q *Queue) readSession(ctx context.Context) neo4j.SessionWithContext {
	return q.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: q.database})
}

func jobFromProps(props map[string]interface{}) model.EmbedJob {
	j := model.EmbedJob{}
	j.ID, _ = props["id"].(string)
	j.EntityUID, _ = props["entity_uid"].(string)
	j.Model, _ = props["model"].(string)
	j.EntityVersion, _ = props["version"].(string)
	if s, ok := props["status"].(string); ok {
		j.Status = model.JobStatus(s)
	}
	if p, ok := props["priority"].(int64); ok {
		j.Priority = int(p)
	}
	j.CreatedAt, _ = props["created_at"].(time.Time)
	if pa, ok := props["processed_at"].(time.Time); ok {
		j.ProcessedAt = &pa
	}
	if a, ok := props["attempts"].(int64); ok {
		j.Attempts = int(a)
	}
	if ma, ok := props["max_attempts"].(int64); ok {
		j.MaxAttempts = int(ma)
	}
	j.LockOwner, _ = props["lock_owner"].(string)
	if lu, ok := props["lock_until"].(time.Time); ok {
		j.LockUntil = &lu
	}
	j.Error, _ = props["error"].(string)
	if ec, ok := props["error_category"].(string); ok {
		j.ErrorCategory = model.ErrorCategory(ec)
	}
	j.ErrorStack, _ = props["error_stack"].(string)
	j.Permanent, _ = props["permanent"].(bool)
	return j
}

// Enqueue implements jobqueue.Queue.
func (q *Queue) Enqueue(ctx context.Context, entityUID, modelName, version string, priority, maxAttempts int) (string, error) {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob {entity_uid: $uid, model: $model, version: $version})
			RETURN j
		`, map[string]interface{}{"uid": entityUID, "model": modelName, "version": version})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err == nil {
			node, _ := record.Get("j")
			n, _ := node.(neo4j.Node)
			existing := jobFromProps(n.Props)
			if existing.Status != model.JobFailed {
				return "", nil
			}
			_, err := tx.Run(ctx, `
				MATCH (j:EmbedJob {id: $id})
				SET j.status = $pending, j.lock_owner = null, j.lock_until = null
			`, map[string]interface{}{"id": existing.ID, "pending": string(model.JobPending)})
			if err != nil {
				return nil, err
			}
			return existing.ID, nil
		}

		id := uuid.NewString()
		_, err = tx.Run(ctx, `
			CREATE (j:EmbedJob {
				id: $id, entity_uid: $uid, model: $model, version: $version,
				status: $pending, priority: $priority, created_at: $now,
				attempts: 0, max_attempts: $maxAttempts
			})
		`, map[string]interface{}{
			"id": id, "uid": entityUID, "model": modelName, "version": version,
			"pending": string(model.JobPending), "priority": int64(priority), "now": q.now(),
			"maxAttempts": int64(maxAttempts),
		})
		if err != nil {
			return nil, err
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	id, _ := result.(string)
	return id, nil
}

// Lease implements jobqueue.Queue.
func (q *Queue) Lease(ctx context.Context, batchSize int, workerID string, lockDuration time.Duration) ([]model.EmbedJob, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		now := q.now()
		until := now.Add(lockDuration)
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			WHERE j.status = $pending OR (j.status = $processing AND j.lock_until < $now)
			WITH j ORDER BY j.priority DESC, j.created_at ASC
			LIMIT $batchSize
			SET j.status = $processing, j.lock_owner = $workerID, j.lock_until = $until, j.attempts = j.attempts + 1
			RETURN j
		`, map[string]interface{}{
			"pending": string(model.JobPending), "processing": string(model.JobProcessing),
			"now": now, "batchSize": int64(batchSize), "workerID": workerID, "until": until,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var jobs []model.EmbedJob
		for _, rec := range records {
			node, _ := rec.Get("j")
			if n, ok := node.(neo4j.Node); ok {
				jobs = append(jobs, jobFromProps(n.Props))
			}
		}
		return jobs, nil
	})
	if err != nil {
		return nil, err
	}
	jobs, _ := result.([]model.EmbedJob)
	return jobs, nil
}

// Heartbeat implements jobqueue.Queue.
func (q *Queue) Heartbeat(ctx context.Context, jobIDs []string, workerID string, lockDuration time.Duration) (int, error) {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		until := q.now().Add(lockDuration)
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			WHERE j.id IN $ids AND j.status = $processing AND j.lock_owner = $workerID
			SET j.lock_until = $until
			RETURN count(j) AS n
		`, map[string]interface{}{"ids": jobIDs, "processing": string(model.JobProcessing), "workerID": workerID, "until": until})
		if err != nil {
			return 0, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return 0, nil
		}
		n, _ := record.Get("n")
		v, _ := n.(int64)
		return int(v), nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int)
	return n, nil
}

// Release implements jobqueue.Queue.
func (q *Queue) Release(ctx context.Context, jobIDs []string, workerID string) (int, error) {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			WHERE j.id IN $ids AND j.lock_owner = $workerID
			SET j.status = $pending, j.lock_owner = null, j.lock_until = null
			RETURN count(j) AS n
		`, map[string]interface{}{"ids": jobIDs, "workerID": workerID, "pending": string(model.JobPending)})
		if err != nil {
			return 0, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return 0, nil
		}
		n, _ := record.Get("n")
		v, _ := n.(int64)
		return int(v), nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int)
	return n, nil
}

// RecoverStale implements jobqueue.Queue.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			WHERE j.status = $processing AND j.lock_until < $now
			SET j.status = $pending, j.lock_owner = null, j.lock_until = null
			RETURN count(j) AS n
		`, map[string]interface{}{"processing": string(model.JobProcessing), "now": q.now(), "pending": string(model.JobPending)})
		if err != nil {
			return 0, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return 0, nil
		}
		n, _ := record.Get("n")
		v, _ := n.(int64)
		return int(v), nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int)
	return n, nil
}

// Complete implements jobqueue.Queue.
func (q *Queue) Complete(ctx context.Context, jobID, workerID string) error {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, `
			MATCH (j:EmbedJob {id: $id, lock_owner: $workerID})
			SET j.status = $completed, j.processed_at = $now, j.lock_owner = null, j.lock_until = null
		`, map[string]interface{}{"id": jobID, "workerID": workerID, "completed": string(model.JobCompleted), "now": q.now()})
	})
	return err
}

// Fail implements jobqueue.Queue.
func (q *Queue) Fail(ctx context.Context, jobID, workerID string, failure jobqueue.FailureContext) error {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob {id: $id, lock_owner: $workerID}) RETURN j
		`, map[string]interface{}{"id": jobID, "workerID": workerID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, nil
		}
		node, _ := record.Get("j")
		n, _ := node.(neo4j.Node)
		job := jobFromProps(n.Props)

		terminal := job.Attempts >= job.MaxAttempts || failure.ErrorCategory == model.ErrorPermanent || failure.ErrorCategory == model.ErrorCritical
		status := string(model.JobPending)
		now := q.now()
		params := map[string]interface{}{
			"id": jobID, "status": status, "error": failure.Error,
			"errorCategory": string(failure.ErrorCategory), "errorStack": failure.ErrorStack,
			"permanent": false, "now": now,
		}
		if terminal {
			params["status"] = string(model.JobFailed)
			params["permanent"] = true
		}
		_, err = tx.Run(ctx, `
			MATCH (j:EmbedJob {id: $id})
			SET j.status = $status, j.error = $error, j.error_category = $errorCategory,
				j.error_stack = $errorStack, j.permanent = $permanent,
				j.lock_owner = null, j.lock_until = null,
				j.processed_at = CASE WHEN $status = $failedLiteral THEN $now ELSE j.processed_at END
		`, mergeParams(params, map[string]interface{}{"failedLiteral": string(model.JobFailed)}))
		return nil, err
	})
	return err
}

func mergeParams(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// RetryFailed implements jobqueue.Queue.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob {status: $failed})
			SET j.status = $pending, j.attempts = 0, j.error = null, j.error_category = null,
				j.error_stack = null, j.permanent = false
			RETURN count(j) AS n
		`, map[string]interface{}{"failed": string(model.JobFailed), "pending": string(model.JobPending)})
		if err != nil {
			return 0, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return 0, nil
		}
		n, _ := record.Get("n")
		v, _ := n.(int64)
		return int(v), nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int)
	return n, nil
}

// Cleanup implements jobqueue.Queue.
func (q *Queue) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if err := jobqueue.ValidateRetentionDays(retentionDays); err != nil {
		return 0, err
	}
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	cutoff := q.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			WHERE j.status IN [$completed, $failed] AND j.processed_at < $cutoff
			WITH j, count(j) AS c
			DELETE j
			RETURN count(*) AS n
		`, map[string]interface{}{"completed": string(model.JobCompleted), "failed": string(model.JobFailed), "cutoff": cutoff})
		if err != nil {
			return 0, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return 0, nil
		}
		n, _ := record.Get("n")
		v, _ := n.(int64)
		return int(v), nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int)
	return n, nil
}

// Status implements jobqueue.Queue.
func (q *Queue) Status(ctx context.Context) (jobqueue.Status, error) {
	session := q.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (j:EmbedJob)
			RETURN j.status AS status, count(j) AS n
		`, nil)
		if err != nil {
			return jobqueue.Status{}, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return jobqueue.Status{}, err
		}
		var s jobqueue.Status
		for _, rec := range records {
			status, _ := rec.Get("status")
			n, _ := rec.Get("n")
			count := 0
			if v, ok := n.(int64); ok {
				count = int(v)
			}
			s.Total += count
			switch model.JobStatus(status.(string)) {
			case model.JobPending:
				s.Pending = count
			case model.JobProcessing:
				s.Processing = count
			case model.JobCompleted:
				s.Completed = count
			case model.JobFailed:
				s.Failed = count
			}
		}
		return s, nil
	})
	if err != nil {
		return jobqueue.Status{}, err
	}
	s, _ := result.(jobqueue.Status)
	return s, nil
}

// EnsureSchema creates the constraints and indexes the job database
// needs: composite uniqueness on (entity_uid, model, version), plus
// indexes on status and lock_until.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	session := q.writeSession(ctx)
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT embed_job_unique IF NOT EXISTS FOR (j:EmbedJob) REQUIRE (j.entity_uid, j.model, j.version) IS UNIQUE`,
		`CREATE INDEX embed_job_status IF NOT EXISTS FOR (j:EmbedJob) ON (j.status)`,
		`CREATE INDEX embed_job_lock_until IF NOT EXISTS FOR (j:EmbedJob) ON (j.lock_until)`,
	}
	for _, stmt := range statements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			return tx.Run(ctx, stmt, nil)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
