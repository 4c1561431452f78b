package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/chinmina/crm-bridge/internal/config"
	"github.com/chinmina/crm-bridge/internal/crm"
	"github.com/chinmina/crm-bridge/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClient(t *testing.T) (*crm.Client, *testhelpers.MockCRMServer) {
	t.Helper()

	mock := testhelpers.SetupMockCRMServer(t)
	client, err := crm.NewFromConfig(config.Config{
		CRM:   config.CRMConfig{WebhookURL: mock.WebhookURL()},
		Queue: config.QueueConfig{MaxSize: 5},
		Cache: config.CacheConfig{MaxSize: 10},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, mock
}

func TestRun_Find(t *testing.T) {
	client, mock := setupClient(t)
	mock.Handle("crm.deal.list", func(testhelpers.RecordedRequest) testhelpers.MockResponse {
		return testhelpers.Result([]map[string]any{{"ID": "4"}})
	})

	result, err := run(context.Background(), client, Config{
		Operation:  "find",
		EntityType: "deal",
		Payload:    `{"STAGE_ID":"NEW"}`,
	})
	require.NoError(t, err)

	assert.Equal(t, []crm.Entity{{"ID": "4"}}, result)
	assert.Equal(t, map[string]any{"STAGE_ID": "NEW"}, mock.Requests()[0].Params["filter"])
}

func TestRun_Create(t *testing.T) {
	client, mock := setupClient(t)
	mock.Respond(testhelpers.Result(15))

	result, err := run(context.Background(), client, Config{
		Operation:  "create",
		EntityType: "lead",
		Payload:    `{"TITLE":"From the command line"}`,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"id": "15"}, result)
}

func TestRun_Errors(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	_, err := run(ctx, client, Config{Operation: "find", EntityType: "invoice", Payload: "{}"})
	var unsupported *crm.UnsupportedEntityTypeError
	assert.ErrorAs(t, err, &unsupported)

	_, err = run(ctx, client, Config{Operation: "explode", EntityType: "lead"})
	assert.ErrorContains(t, err, `unknown operation "explode"`)

	_, err = run(ctx, client, Config{Operation: "find", EntityType: "lead", Payload: "not json"})
	assert.ErrorContains(t, err, "invalid UTIL_PAYLOAD")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]string{"id": "1"}))
	assert.Equal(t, "{\n  \"id\": \"1\"\n}\n", buf.String())
}
