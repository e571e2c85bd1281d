package aws

import (
	"context"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSNSAPI struct {
	input *sns.PublishInput
}

func (f *fakeSNSAPI) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{MessageId: sdkaws.String("m-1")}, nil
}

func TestSNSPublish_SetsAttributes(t *testing.T) {
	api := &fakeSNSAPI{}
	c := &SNSClient{client: api, logger: zap.NewNop()}

	err := c.Publish(context.Background(), "arn:aws:sns:ap-south-1:000000000000:orders", []byte(`{"a":1}`), map[string]string{"event_type": "order_created"})
	require.NoError(t, err)

	assert.Equal(t, `{"a":1}`, *api.input.Message)
	assert.Equal(t, "order_created", *api.input.MessageAttributes["event_type"].StringValue)
}

func TestSNSPublish_EmptyTopic(t *testing.T) {
	c := &SNSClient{client: &fakeSNSAPI{}, logger: zap.NewNop()}

	assert.EqualError(t, c.Publish(context.Background(), "", nil, nil), "empty topicArn")
}
