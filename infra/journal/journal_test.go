package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cariot/core/command"
	"github.com/kilianp07/cariot/core/topic"
	"github.com/kilianp07/cariot/internal/testutil"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Enabled: true}.Validate())
}

func TestNewInvalidURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "://bad"})
	assert.Error(t, err)
}

type fakeTransport struct{ connected bool }

func (f fakeTransport) IsConnected() bool                             { return f.connected }
func (f fakeTransport) Publish(context.Context, string, []byte) error { return nil }

func TestPGJournal_RecordsCommands(t *testing.T) {
	if !testutil.DockerAvailable() {
		t.Skip("docker not available")
	}
	ctx := context.Background()
	url, cleanup, err := testutil.StartPostgres(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer cleanup()

	var j *PGJournal
	for i := 0; i < 10; i++ {
		j, err = New(ctx, Config{Enabled: true, URL: url})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.EnsureSchema(ctx), "schema creation is idempotent")

	pub := command.NewPublisher(topic.New(topic.DefaultNamespace), fakeTransport{connected: true}, command.WithJournal(j))
	res := pub.Publish(ctx, "car/car-1/lock", true)
	require.True(t, res.Success)
	res = pub.Publish(ctx, "car/car-1/horn", true)
	require.False(t, res.Success)

	entries, err := j.Recent(ctx, "car-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "disallowed_action", entries[0].Code)
	assert.Equal(t, "horn", entries[0].Action)
	assert.True(t, entries[1].Success)
	assert.Equal(t, "true", entries[1].Payload)
}
