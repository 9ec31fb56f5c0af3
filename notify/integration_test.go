package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-cars/config"
)

func TestKafkaPublish(t *testing.T) {
	raw := os.Getenv("KAFKA_BROKERS")
	if raw == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	k := NewKafka(config.SplitList(raw), "car-deals-test")
	defer k.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, k.Notify(ctx, superDeal()))
}
