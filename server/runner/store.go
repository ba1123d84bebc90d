package runner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"
)

const (
	runsPrefix = "runs"
	// finishedRunTTL keeps terminal runs around for post-mortem
	// inspection, then lets buntdb drop them.
	finishedRunTTL = 24 * time.Hour
)

// Store is the runner's live view of the runs it holds, kept in buntdb so
// a restart can tell which runs it was executing when it died.
type Store struct {
	db     *buntdb.DB
	lock   *sync.Mutex
	logger *logrus.Entry
}

// NewStore opens the state file, or an in-memory db when path is empty.
func NewStore(path string, logger *logrus.Entry) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	_ = db.CreateIndex("run_status", runsPrefix+":*", buntdb.IndexJSON("status"))
	_ = db.CreateIndex("run_created", runsPrefix+":*", buntdb.IndexJSON("created_at"))

	return &Store{
		db:     db,
		lock:   &sync.Mutex{},
		logger: logger,
	}, nil
}

func runKey(id string) string {
	return fmt.Sprintf("%s:%s", runsPrefix, id)
}

// SaveRun writes the run state. Terminal runs get a TTL so the db does not
// grow without bound.
func (s *Store) SaveRun(run *workflow.Run) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if run.Status.Terminal() {
			opts = &buntdb.SetOptions{Expires: true, TTL: finishedRunTTL}
		}
		_, _, err := tx.Set(runKey(run.ID), string(b), opts)
		return err
	})
}

func (s *Store) GetRun(id string) (*workflow.Run, error) {
	var run workflow.Run
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(runKey(id))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(v), &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ActiveRuns lists the runs that were not terminal when last saved. After
// a crash these are the runs the runner lost mid-flight.
func (s *Store) ActiveRuns() ([]*workflow.Run, error) {
	runs := make([]*workflow.Run, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("run_created", func(key, value string) bool {
			if !strings.HasPrefix(key, runsPrefix+":") {
				return true
			}
			var run workflow.Run
			if err := json.Unmarshal([]byte(value), &run); err != nil {
				s.logger.WithError(err).WithField("key", key).Warn("dropping undecodable run state")
				return true
			}
			if !run.Status.Terminal() {
				runs = append(runs, &run)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Store) DeleteRun(id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(runKey(id))
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
