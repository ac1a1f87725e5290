package lynx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicPrefixFromUsername(t *testing.T) {
	assert.Equal(t, "2086", TopicPrefixFromUsername("box:2086"))
	assert.Equal(t, "991", TopicPrefixFromUsername("gateway:991"))
	assert.Equal(t, "", TopicPrefixFromUsername("someone@example.com"))
	assert.Equal(t, "", TopicPrefixFromUsername("box:abc"))
	assert.Equal(t, "", TopicPrefixFromUsername(""))
}

func TestCreateCommandPublisherPrefix(t *testing.T) {
	pub, err := CreateCommandPublisher("lynx.example.com:1883", "box:2086", "key", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, "2086", pub.TopicPrefix())

	pub, err = CreateCommandPublisher("tls://lynx.example.com:8883", "apiuser", "key", "42", nil)
	assert.NoError(t, err)
	assert.Equal(t, "42", pub.TopicPrefix())

	_, err = CreateCommandPublisher("lynx.example.com:1883", "apiuser", "key", "", nil)
	assert.Error(t, err)

	_, err = CreateCommandPublisher("", "box:2086", "key", "", nil)
	assert.Error(t, err)
}
