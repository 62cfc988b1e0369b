package queue

import (
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
)

func TestRetryCountReadsAnyIntegerWidth(t *testing.T) {
	assert.Equal(t, 0, RetryCount(nil))
	assert.Equal(t, 0, RetryCount(amqp.Table{}))
	assert.Equal(t, 2, RetryCount(amqp.Table{RetryHeaderName: 2}))
	assert.Equal(t, 3, RetryCount(amqp.Table{RetryHeaderName: int32(3)}))
	assert.Equal(t, 4, RetryCount(amqp.Table{RetryHeaderName: int64(4)}))
	assert.Equal(t, 0, RetryCount(amqp.Table{RetryHeaderName: "junk"}))
}

func TestRetryPublishingBumpsCounter(t *testing.T) {
	delivery := amqp.Delivery{
		Body:    []byte(`{"campaign_id":7}`),
		Headers: amqp.Table{RetryHeaderName: int32(1), "trace": "abc"},
	}

	pub := RetryPublishing(delivery)

	assert.Equal(t, int32(2), pub.Headers[RetryHeaderName])
	assert.Equal(t, "abc", pub.Headers["trace"])
	assert.Equal(t, delivery.Body, pub.Body)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), pub.DeliveryMode)

	// The original delivery's headers stay untouched; a broker requeue of
	// that delivery would otherwise have carried the bumped value back.
	assert.Equal(t, int32(1), delivery.Headers[RetryHeaderName])
}

func TestRetryPublishingStartsCounterAtOne(t *testing.T) {
	pub := RetryPublishing(amqp.Delivery{Body: []byte(`{"campaign_id":7}`)})
	assert.Equal(t, int32(1), pub.Headers[RetryHeaderName])
	assert.Equal(t, 1, RetryCount(pub.Headers))
}
