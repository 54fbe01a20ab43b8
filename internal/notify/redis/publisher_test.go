package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/photodedup/pkg/models"
)

type published struct {
	channel string
	payload []byte
}

// fakeConn records PUBLISH commands.
type fakeConn struct {
	mu      *sync.Mutex
	sent    *[]published
	failErr error
}

func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Err() error   { return nil }

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	if c.failErr != nil {
		return nil, c.failErr
	}
	if cmd != "PUBLISH" {
		return "OK", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	*c.sent = append(*c.sent, published{channel: args[0].(string), payload: args[1].([]byte)})
	return int64(2), nil
}

func (c *fakeConn) Send(string, ...interface{}) error { return nil }
func (c *fakeConn) Flush() error                      { return nil }
func (c *fakeConn) Receive() (interface{}, error)     { return nil, nil }

func fakePool(sent *[]published, mu *sync.Mutex, failErr error) *redis.Pool {
	return &redis.Pool{
		MaxIdle: 1,
		Dial: func() (redis.Conn, error) {
			return &fakeConn{mu: mu, sent: sent, failErr: failErr}, nil
		},
	}
}

func testSet(id string) models.SimilarSet {
	s := models.NewSingletonSet(models.Photo{ID: id, Timestamp: time.Unix(0, 0)})
	s.Add(models.Photo{ID: id + "-2", Timestamp: time.Unix(1, 0)})
	return s
}

func TestPublisher_Publish(t *testing.T) {
	var sent []published
	var mu sync.Mutex
	p := NewPublisher(fakePool(&sent, &mu, nil), "", zerolog.Nop())
	defer p.Close()

	n, err := p.Publish(context.Background(), []models.SimilarSet{testSet("a")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, sent, 1)
	assert.Equal(t, DefaultChannel, sent[0].channel)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(sent[0].payload, &snap))
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, []string{"a", "a-2"}, snap.Sets[0].MemberIDs)
	assert.NotZero(t, snap.Published)
}

func TestPublisher_PublishError(t *testing.T) {
	var sent []published
	var mu sync.Mutex
	p := NewPublisher(fakePool(&sent, &mu, errors.New("connection refused")), "custom", zerolog.Nop())

	_, err := p.Publish(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom")
}

func TestPublisher_Run(t *testing.T) {
	var sent []published
	var mu sync.Mutex
	p := NewPublisher(fakePool(&sent, &mu, nil), "sets", zerolog.Nop())

	updates := make(chan []models.SimilarSet)
	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), updates)
		close(done)
	}()

	updates <- []models.SimilarSet{testSet("a")}
	updates <- []models.SimilarSet{}
	close(updates)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 2)
	assert.Equal(t, "sets", sent[1].channel)
}

func TestPublisher_RunStopsOnContext(t *testing.T) {
	var sent []published
	var mu sync.Mutex
	p := NewPublisher(fakePool(&sent, &mu, nil), "", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, make(chan []models.SimilarSet))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
