// Package storage provides persistent TaskStore implementations backed by
// BoltDB and PostgreSQL.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/agentmesh/agentmesh/a2a"
	"github.com/agentmesh/agentmesh/server"
)

var (
	bucketTasks       = []byte("tasks")
	bucketPushConfigs = []byte("push_configs")
)

var _ server.TaskStore = (*BoltTaskStore)(nil)

// BoltTaskStore implements server.TaskStore using BoltDB. Records are stored
// as JSON under their task id; the JSON round trip doubles as the required
// copy-on-read/write.
type BoltTaskStore struct {
	db *bolt.DB
}

// NewBoltTaskStore opens (or creates) the database file under dataDir.
func NewBoltTaskStore(dataDir string) (*BoltTaskStore, error) {
	dbPath := filepath.Join(dataDir, "agentmesh.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketPushConfigs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltTaskStore{db: db}, nil
}

// Close closes the database.
func (s *BoltTaskStore) Close() error {
	return s.db.Close()
}

// Save stores the task as JSON.
func (s *BoltTaskStore) Save(ctx context.Context, task *a2a.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
	})
}

// Load retrieves one task, or TaskNotFound.
func (s *BoltTaskStore) Load(ctx context.Context, taskID string) (*a2a.Task, error) {
	var task a2a.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(taskID))
		if data == nil {
			return a2a.NewTaskNotFoundError(taskID)
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Delete removes one task, or returns TaskNotFound.
func (s *BoltTaskStore) Delete(ctx context.Context, taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get([]byte(taskID)) == nil {
			return a2a.NewTaskNotFoundError(taskID)
		}
		return b.Delete([]byte(taskID))
	})
}

// List returns all stored tasks.
func (s *BoltTaskStore) List(ctx context.Context) ([]*a2a.Task, error) {
	var tasks []*a2a.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, data []byte) error {
			var task a2a.Task
			if err := json.Unmarshal(data, &task); err != nil {
				return err
			}
			tasks = append(tasks, &task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

var _ server.PushConfigStore = (*BoltPushConfigStore)(nil)

// BoltPushConfigStore implements server.PushConfigStore on the same database
// file, keyed by "taskID/configID".
type BoltPushConfigStore struct {
	db *bolt.DB
}

// PushConfigStore derives a push config store sharing the task store's
// database.
func (s *BoltTaskStore) PushConfigStore() *BoltPushConfigStore {
	return &BoltPushConfigStore{db: s.db}
}

func pushKey(taskID, configID string) []byte {
	return []byte(taskID + "/" + configID)
}

// Save stores the config; an empty config ID defaults to the task ID.
func (s *BoltPushConfigStore) Save(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) (*a2a.PushNotificationConfig, error) {
	saved := *config
	if saved.ID == "" {
		saved.ID = taskID
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&saved)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPushConfigs).Put(pushKey(taskID, saved.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// Get returns the config for (taskID, configID), or nil when absent.
func (s *BoltPushConfigStore) Get(ctx context.Context, taskID, configID string) (*a2a.PushNotificationConfig, error) {
	var config *a2a.PushNotificationConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPushConfigs).Get(pushKey(taskID, configID))
		if data == nil {
			return nil
		}
		config = &a2a.PushNotificationConfig{}
		return json.Unmarshal(data, config)
	})
	if err != nil {
		return nil, err
	}
	return config, nil
}

// List returns all configs registered for the task.
func (s *BoltPushConfigStore) List(ctx context.Context, taskID string) ([]*a2a.PushNotificationConfig, error) {
	prefix := []byte(taskID + "/")
	configs := []*a2a.PushNotificationConfig{}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPushConfigs).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var config a2a.PushNotificationConfig
			if err := json.Unmarshal(v, &config); err != nil {
				return err
			}
			configs = append(configs, &config)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// Delete removes the config for (taskID, configID).
func (s *BoltPushConfigStore) Delete(ctx context.Context, taskID, configID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPushConfigs).Delete(pushKey(taskID, configID))
	})
}
