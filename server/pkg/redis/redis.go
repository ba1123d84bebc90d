package redis

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"
)

// New dials a redis instance and verifies it answers before handing the
// client back.
func New(host, port, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		Password:    password,
		DB:          0,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}
	return client, nil
}
