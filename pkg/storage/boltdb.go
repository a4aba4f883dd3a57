package storage

import (
	"encoding/json"
	"path/filepath"

	"github.com/hodeiorg/hodei-pipelines/pkg/apierrors"
	"github.com/hodeiorg/hodei-pipelines/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs        = []byte("jobs")
	bucketQueues      = []byte("queues")
	bucketQueuedJobs  = []byte("queued_jobs")
	bucketQuotas      = []byte("quotas")
	bucketUsage       = []byte("usage")
	bucketViolations  = []byte("violations")
	bucketPools       = []byte("pools")
	bucketWorkerPools = []byte("worker_pools")
	bucketExecutions  = []byte("executions")
	bucketArtifacts   = []byte("artifacts")

	allBuckets = [][]byte{
		bucketJobs, bucketQueues, bucketQueuedJobs, bucketQuotas,
		bucketUsage, bucketViolations, bucketPools, bucketWorkerPools,
		bucketExecutions, bucketArtifacts,
	}
)

// BoltStore implements Store using an embedded bbolt database, one
// bucket per entity, JSON-encoded values keyed by id — the teacher's
// pkg/storage/boltdb.go pattern applied to the job-orchestration
// domain model.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database under
// dataDir and ensures every bucket this store needs exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hodei.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(db *bolt.DB, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
	if err != nil {
		return apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}
	return nil
}

func get(db *bolt.DB, bucket []byte, key string, kind string, out interface{}) error {
	var data []byte
	err := db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return apierrors.NewNotFound(kind, key)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}
	return nil
}

func del(db *bolt.DB, bucket []byte, key string) error {
	err := db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
	if err != nil {
		return apierrors.NewRepository(apierrors.RepositoryOperationFailed, err)
	}
	return nil
}

// --- Jobs ---

func (s *BoltStore) CreateJob(job *types.Job) error { return put(s.db, bucketJobs, job.ID, job) }

func (s *BoltStore) GetJob(id string) (*types.Job, error) {
	var j types.Job
	if err := get(s.db, bucketJobs, id, "job", &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *BoltStore) ListJobs() ([]*types.Job, error) {
	var out []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var j types.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			out = append(out, &j)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateJob(job *types.Job) error { return s.CreateJob(job) }
func (s *BoltStore) DeleteJob(id string) error      { return del(s.db, bucketJobs, id) }

// --- Job queues ---

func (s *BoltStore) CreateQueue(q *types.JobQueue) error { return put(s.db, bucketQueues, q.ID, q) }

func (s *BoltStore) GetQueue(id string) (*types.JobQueue, error) {
	var q types.JobQueue
	if err := get(s.db, bucketQueues, id, "queue", &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *BoltStore) ListQueues() ([]*types.JobQueue, error) {
	var out []*types.JobQueue
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueues).ForEach(func(k, v []byte) error {
			var q types.JobQueue
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			out = append(out, &q)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateQueue(q *types.JobQueue) error { return s.CreateQueue(q) }
func (s *BoltStore) DeleteQueue(id string) error         { return del(s.db, bucketQueues, id) }

// --- Queued jobs ---
// Keyed by the underlying Job's id so "already queued" lookups (§4.9
// AlreadyQueued) are an O(1) key check rather than a scan.

func (s *BoltStore) CreateQueuedJob(q *types.QueuedJob) error {
	return put(s.db, bucketQueuedJobs, q.Job.ID, q)
}

func (s *BoltStore) GetQueuedJob(jobID string) (*types.QueuedJob, error) {
	var q types.QueuedJob
	if err := get(s.db, bucketQueuedJobs, jobID, "queued_job", &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *BoltStore) ListQueuedJobsByQueue(queueID string) ([]*types.QueuedJob, error) {
	all, err := s.ListAllQueuedJobs()
	if err != nil {
		return nil, err
	}
	var out []*types.QueuedJob
	for _, q := range all {
		if q.QueueID == queueID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *BoltStore) ListAllQueuedJobs() ([]*types.QueuedJob, error) {
	var out []*types.QueuedJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueuedJobs).ForEach(func(k, v []byte) error {
			var q types.QueuedJob
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			out = append(out, &q)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateQueuedJob(q *types.QueuedJob) error { return s.CreateQueuedJob(q) }
func (s *BoltStore) DeleteQueuedJob(jobID string) error       { return del(s.db, bucketQueuedJobs, jobID) }

// --- Quotas ---

func (s *BoltStore) CreateQuota(q *types.ResourceQuota) error { return put(s.db, bucketQuotas, q.ID, q) }

func (s *BoltStore) GetQuota(id string) (*types.ResourceQuota, error) {
	var q types.ResourceQuota
	if err := get(s.db, bucketQuotas, id, "quota", &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *BoltStore) GetQuotaByPool(poolID string) (*types.ResourceQuota, error) {
	quotas, err := s.ListQuotas()
	if err != nil {
		return nil, err
	}
	for _, q := range quotas {
		if q.PoolID == poolID {
			return q, nil
		}
	}
	return nil, apierrors.NewNotFound("quota", poolID)
}

func (s *BoltStore) ListQuotas() ([]*types.ResourceQuota, error) {
	var out []*types.ResourceQuota
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQuotas).ForEach(func(k, v []byte) error {
			var q types.ResourceQuota
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			out = append(out, &q)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateQuota(q *types.ResourceQuota) error { return s.CreateQuota(q) }
func (s *BoltStore) DeleteQuota(id string) error              { return del(s.db, bucketQuotas, id) }

// --- Usage ---

func (s *BoltStore) GetUsage(poolID string) (*types.ResourceUsage, error) {
	var u types.ResourceUsage
	if err := get(s.db, bucketUsage, poolID, "usage", &u); err != nil {
		if _, ok := err.(*apierrors.NotFoundError); ok {
			return &types.ResourceUsage{PoolID: poolID}, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *BoltStore) SaveUsage(u *types.ResourceUsage) error {
	return put(s.db, bucketUsage, u.PoolID, u)
}

func (s *BoltStore) ListUsage() ([]*types.ResourceUsage, error) {
	var out []*types.ResourceUsage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsage).ForEach(func(k, v []byte) error {
			var u types.ResourceUsage
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, &u)
			return nil
		})
	})
	return out, err
}

// --- Violations ---

func (s *BoltStore) CreateViolation(v *types.QuotaViolation) error {
	return put(s.db, bucketViolations, v.ID, v)
}

func (s *BoltStore) GetViolation(id string) (*types.QuotaViolation, error) {
	var v types.QuotaViolation
	if err := get(s.db, bucketViolations, id, "violation", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *BoltStore) ListViolationsByPool(poolID string) ([]*types.QuotaViolation, error) {
	var out []*types.QuotaViolation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketViolations).ForEach(func(k, v []byte) error {
			var viol types.QuotaViolation
			if err := json.Unmarshal(v, &viol); err != nil {
				return err
			}
			if viol.PoolID == poolID {
				out = append(out, &viol)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateViolation(v *types.QuotaViolation) error { return s.CreateViolation(v) }

// --- Resource pools ---

func (s *BoltStore) CreatePool(p *types.ResourcePool) error { return put(s.db, bucketPools, p.ID, p) }

func (s *BoltStore) GetPool(id string) (*types.ResourcePool, error) {
	var p types.ResourcePool
	if err := get(s.db, bucketPools, id, "pool", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPools() ([]*types.ResourcePool, error) {
	var out []*types.ResourcePool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPools).ForEach(func(k, v []byte) error {
			var p types.ResourcePool
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdatePool(p *types.ResourcePool) error { return s.CreatePool(p) }
func (s *BoltStore) DeletePool(id string) error             { return del(s.db, bucketPools, id) }

// --- Worker pools ---

func (s *BoltStore) CreateWorkerPool(wp *types.WorkerPool) error {
	return put(s.db, bucketWorkerPools, wp.ID, wp)
}

func (s *BoltStore) GetWorkerPool(id string) (*types.WorkerPool, error) {
	var wp types.WorkerPool
	if err := get(s.db, bucketWorkerPools, id, "worker_pool", &wp); err != nil {
		return nil, err
	}
	return &wp, nil
}

func (s *BoltStore) GetWorkerPoolByPool(poolID string) (*types.WorkerPool, error) {
	pools, err := s.ListWorkerPools()
	if err != nil {
		return nil, err
	}
	for _, wp := range pools {
		if wp.PoolID == poolID {
			return wp, nil
		}
	}
	return nil, apierrors.NewNotFound("worker_pool", poolID)
}

func (s *BoltStore) ListWorkerPools() ([]*types.WorkerPool, error) {
	var out []*types.WorkerPool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkerPools).ForEach(func(k, v []byte) error {
			var wp types.WorkerPool
			if err := json.Unmarshal(v, &wp); err != nil {
				return err
			}
			out = append(out, &wp)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateWorkerPool(wp *types.WorkerPool) error { return s.CreateWorkerPool(wp) }
func (s *BoltStore) DeleteWorkerPool(id string) error            { return del(s.db, bucketWorkerPools, id) }

// --- Executions ---

func (s *BoltStore) CreateExecution(e *types.Execution) error {
	return put(s.db, bucketExecutions, e.ID, e)
}

func (s *BoltStore) GetExecution(id string) (*types.Execution, error) {
	var e types.Execution
	if err := get(s.db, bucketExecutions, id, "execution", &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) ListExecutionsByJob(jobID string) ([]*types.Execution, error) {
	var out []*types.Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExecutions).ForEach(func(k, v []byte) error {
			var e types.Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.JobID == jobID {
				out = append(out, &e)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateExecution(e *types.Execution) error { return s.CreateExecution(e) }

// --- Artifacts ---

func (s *BoltStore) PutArtifactInfo(info *types.ArtifactInfo) error {
	return put(s.db, bucketArtifacts, info.ArtifactID, info)
}

func (s *BoltStore) GetArtifactInfo(artifactID string) (*types.ArtifactInfo, error) {
	var info types.ArtifactInfo
	if err := get(s.db, bucketArtifacts, artifactID, "artifact", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *BoltStore) ListArtifactInfo() ([]*types.ArtifactInfo, error) {
	var out []*types.ArtifactInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArtifacts).ForEach(func(k, v []byte) error {
			var info types.ArtifactInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			out = append(out, &info)
			return nil
		})
	})
	return out, err
}
