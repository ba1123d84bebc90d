package stream

import (
	"time"

	"github.com/go-redis/redis/v7"
)

const tailTTL = 24 * time.Hour

// TailCache keeps the most recent frames of each run in redis so a viewer
// who opens a stream mid-run sees context instead of a blank pane.
type TailCache struct {
	rdb   *redis.Client
	lines int
}

func NewTailCache(rdb *redis.Client, lines int) *TailCache {
	return &TailCache{rdb: rdb, lines: lines}
}

func (t *TailCache) key(runID string) string {
	return "gantry:tail:" + runID
}

func (t *TailCache) Push(runID string, frame []byte) error {
	key := t.key(runID)
	pipe := t.rdb.Pipeline()
	pipe.RPush(key, frame)
	pipe.LTrim(key, int64(-t.lines), -1)
	pipe.Expire(key, tailTTL)
	_, err := pipe.Exec()
	return err
}

func (t *TailCache) Replay(runID string) ([]string, error) {
	return t.rdb.LRange(t.key(runID), 0, -1).Result()
}

func (t *TailCache) Drop(runID string) error {
	return t.rdb.Del(t.key(runID)).Err()
}
