package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("not found")

// MaxHistory caps how many past local runs the history file keeps.
const MaxHistory = 100

var runsBucket = []byte("runs")

// History records finished local runs in a bolt file so `gantry runs`
// works without a server. Keys sort by creation time, oldest first.
type History struct {
	db     *bolt.DB
	lock   *sync.Mutex
	logger *logrus.Entry
}

func OpenHistory(path string, logger *logrus.Entry) (*History, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &History{
		db:     db,
		lock:   &sync.Mutex{},
		logger: logger,
	}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

func historyKey(run *workflow.Run) []byte {
	return []byte(fmt.Sprintf("%020d/%s", run.CreatedAt, run.ID))
}

// Append stores a run and prunes the oldest entries beyond MaxHistory.
func (h *History) Append(run *workflow.Run) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(runsBucket)
		if err != nil {
			return err
		}
		val, err := json.Marshal(run)
		if err != nil {
			return err
		}
		if err := bkt.Put(historyKey(run), val); err != nil {
			return err
		}

		count := 0
		c := bkt.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		over := count - MaxHistory
		for k, _ := c.First(); k != nil && over > 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			over--
		}
		return nil
	})
}

// List returns up to limit runs, newest first. A non-positive limit
// returns everything.
func (h *History) List(limit int) ([]*workflow.Run, error) {
	runs := make([]*workflow.Run, 0)
	err := h.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(runsBucket)
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run workflow.Run
			if err := json.Unmarshal(v, &run); err != nil {
				h.logger.WithError(err).Warn("corrupt history entry skipped")
				continue
			}
			runs = append(runs, &run)
		}
		return nil
	})
	return runs, err
}

// Get looks a run up by id, accepting any unambiguous prefix.
func (h *History) Get(id string) (*workflow.Run, error) {
	var found *workflow.Run
	err := h.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(runsBucket)
		if bkt == nil {
			return ErrNotFound
		}
		c := bkt.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			_, runID, ok := strings.Cut(string(k), "/")
			if !ok || !strings.HasPrefix(runID, id) {
				continue
			}
			if found != nil {
				return fmt.Errorf("run id %q is ambiguous", id)
			}
			var run workflow.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			found = &run
		}
		if found == nil {
			return ErrNotFound
		}
		return nil
	})
	return found, err
}
