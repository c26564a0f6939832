package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/browserwing/domguard/models"
	bolt "go.etcd.io/bbolt"
)

var (
	diagnosticsBucket      = []byte("diagnostics")
	scriptExecutionsBucket = []byte("script_executions")
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when a diagnostic ID is reused; records are
	// append-only.
	ErrExists = errors.New("record already exists")
)

type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(dbPath string) (*BoltDB, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w (directory: %s)", dbPath, err, dir)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{diagnosticsBucket, scriptExecutionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// ============= 诊断记录 =============

// AppendDiagnostic stores rec under its ID. Existing records are never
// replaced.
func (b *BoltDB) AppendDiagnostic(rec *models.DiagnosticRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("diagnostic record has no ID")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(diagnosticsBucket)
		if bucket.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("diagnostic %s: %w", rec.ID, ErrExists)
		}
		data, err := rec.ToJSON()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(rec.ID), data)
	})
}

func (b *BoltDB) GetDiagnostic(id string) (*models.DiagnosticRecord, error) {
	var rec models.DiagnosticRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(diagnosticsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("diagnostic %s: %w", id, ErrNotFound)
		}
		return rec.FromJSON(data)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDiagnostics returns up to limit records, newest first. IDs are
// time-ordered so key order is creation order. limit <= 0 returns all.
func (b *BoltDB) ListDiagnostics(limit int) ([]*models.DiagnosticRecord, error) {
	var records []*models.DiagnosticRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(diagnosticsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec models.DiagnosticRecord
			if err := rec.FromJSON(v); err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ============= 脚本执行记录 =============

func (b *BoltDB) SaveScriptExecution(execution *models.ScriptExecution) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(scriptExecutionsBucket)
		data, err := execution.ToJSON()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(execution.ID), data)
	})
}

func (b *BoltDB) GetScriptExecution(id string) (*models.ScriptExecution, error) {
	var execution models.ScriptExecution
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(scriptExecutionsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("script execution %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &execution)
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// ListScriptExecutions lists executions, newest first, optionally only those
// of scriptName.
func (b *BoltDB) ListScriptExecutions(scriptName string) ([]*models.ScriptExecution, error) {
	var executions []*models.ScriptExecution
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(scriptExecutionsBucket).ForEach(func(k, v []byte) error {
			var execution models.ScriptExecution
			if err := execution.FromJSON(v); err != nil {
				return err
			}
			if scriptName == "" || execution.ScriptName == scriptName {
				executions = append(executions, &execution)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})
	return executions, nil
}
