package crm

import (
	"context"
	"net/http"
	"testing"

	"github.com/chinmina/crm-bridge/internal/testhelpers"
	"github.com/chinmina/crm-bridge/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_RoutesByType(t *testing.T) {
	for _, entityType := range []EntityType{Lead, Deal, Contact, Company} {
		t.Run(string(entityType), func(t *testing.T) {
			client, mock := setupClient(t, Options{})
			mock.Handle(entityType.method("list"), func(testhelpers.RecordedRequest) testhelpers.MockResponse {
				return testhelpers.Result([]map[string]any{{"ID": "1"}})
			})
			mock.Handle(entityType.method("get"), func(testhelpers.RecordedRequest) testhelpers.MockResponse {
				return testhelpers.Result(map[string]any{"ID": "1"})
			})
			mock.Handle(entityType.method("add"), func(testhelpers.RecordedRequest) testhelpers.MockResponse {
				return testhelpers.Result("11")
			})

			ctx := context.Background()

			found, err := client.FindEntity(ctx, entityType, Filter{"ID": 1})
			require.NoError(t, err)
			assert.Len(t, found, 1)

			entity, err := client.GetEntity(ctx, entityType, "1")
			require.NoError(t, err)
			assert.Equal(t, "1", entity.ID())

			id, err := client.CreateEntity(ctx, entityType, Fields{"TITLE": "x"})
			require.NoError(t, err)
			assert.Equal(t, "11", id)

			require.NoError(t, client.UpdateEntity(ctx, entityType, "11", Fields{"TITLE": "y"}))
			require.NoError(t, client.DeleteEntity(ctx, entityType, "11"))

			var methods []string
			for _, r := range mock.Requests() {
				methods = append(methods, r.Method)
			}
			assert.Equal(t, []string{
				entityType.method("list"),
				entityType.method("get"),
				entityType.method("add"),
				entityType.method("update"),
				entityType.method("delete"),
			}, methods)
		})
	}
}

func TestDispatch_UnsupportedType(t *testing.T) {
	client, mock := setupClient(t, Options{})
	ctx := context.Background()
	invoice := EntityType("invoice")

	_, findErr := client.FindEntity(ctx, invoice, nil)
	_, getErr := client.GetEntity(ctx, invoice, "1")
	_, createErr := client.CreateEntity(ctx, invoice, Fields{"TITLE": "x"})
	updateErr := client.UpdateEntity(ctx, invoice, "1", Fields{"TITLE": "x"})
	deleteErr := client.DeleteEntity(ctx, invoice, "1")
	_, searchErr := client.SearchEntities(ctx, invoice, SearchOptions{})
	_, valueErr := client.GetFieldValue(ctx, invoice, "1", "TITLE")
	_, fieldsErr := client.GetEntityFields(ctx, invoice)

	for _, err := range []error{findErr, getErr, createErr, updateErr, deleteErr, searchErr, valueErr, fieldsErr} {
		var unsupported *UnsupportedEntityTypeError
		if assert.ErrorAs(t, err, &unsupported) {
			assert.Equal(t, "invoice", unsupported.Type)
		}
	}

	assert.Equal(t, 0, mock.RequestCount())
}

func TestSearchEntities_FollowsPagingCursor(t *testing.T) {
	client, mock := setupClient(t, Options{})
	mock.Handle("crm.deal.list", func(r testhelpers.RecordedRequest) testhelpers.MockResponse {
		switch r.Params["start"] {
		case float64(0):
			return testhelpers.PagedResult([]map[string]any{{"ID": "1"}, {"ID": "2"}}, 5, 2)
		case float64(2):
			return testhelpers.PagedResult([]map[string]any{{"ID": "3"}, {"ID": "4"}}, 5, 4)
		default:
			return testhelpers.PagedResult([]map[string]any{{"ID": "5"}}, 5, -1)
		}
	})

	ctx := context.Background()

	results, err := client.SearchEntities(ctx, Deal, SearchOptions{
		Filter: Filter{"STAGE_ID": "NEW"},
		Order:  map[string]string{"ID": "ASC"},
		Limit:  10,
	})
	require.NoError(t, err)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)

	requests := requestsFor(mock, "crm.deal.list")
	require.Len(t, requests, 3)
	assert.Equal(t, map[string]any{"ID": "ASC"}, requests[0].Params["order"])
	assert.Equal(t, map[string]any{"STAGE_ID": "NEW"}, requests[2].Params["filter"])
}

func TestSearchEntities_StopsAtLimit(t *testing.T) {
	client, mock := setupClient(t, Options{})
	mock.Handle("crm.lead.list", func(r testhelpers.RecordedRequest) testhelpers.MockResponse {
		start := int(r.Params["start"].(float64))
		return testhelpers.PagedResult([]map[string]any{{"ID": start + 1}, {"ID": start + 2}}, 100, start+2)
	})

	results, err := client.SearchEntities(context.Background(), Lead, SearchOptions{Limit: 3})
	require.NoError(t, err)

	assert.Len(t, results, 3)
	assert.Len(t, requestsFor(mock, "crm.lead.list"), 2)
}

func TestSearchEntities_BypassesCache(t *testing.T) {
	client, mock := setupClient(t, Options{})
	mock.Handle("crm.company.list", func(testhelpers.RecordedRequest) testhelpers.MockResponse {
		return testhelpers.PagedResult([]map[string]any{{"ID": "1"}}, 1, -1)
	})

	ctx := context.Background()
	_, err := client.SearchEntities(ctx, Company, SearchOptions{})
	require.NoError(t, err)
	_, err = client.SearchEntities(ctx, Company, SearchOptions{})
	require.NoError(t, err)

	assert.Len(t, requestsFor(mock, "crm.company.list"), 2)
	assert.Equal(t, 0, client.Metrics().CacheSize)
}

func TestSearchEntities_ReturnsRemoteErrors(t *testing.T) {
	client, mock := setupClient(t, Options{})
	mock.Respond(testhelpers.APIError(http.StatusBadRequest, "INVALID_FILTER", "Filter field unknown"))

	_, err := client.SearchEntities(context.Background(), Contact, SearchOptions{Filter: Filter{"NOPE": 1}})

	var remoteErr *transport.RemoteAPIError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "INVALID_FILTER", remoteErr.Code)
}

func TestGetFieldValue(t *testing.T) {
	lead := map[string]any{
		"ID":    "5",
		"TITLE": "Website enquiry",
		"EMAIL": []map[string]any{{"VALUE": "jo@example.com", "VALUE_TYPE": "WORK"}},
	}

	t.Run("by numeric id", func(t *testing.T) {
		client, mock := setupClient(t, Options{})
		mock.Handle("crm.lead.get", func(testhelpers.RecordedRequest) testhelpers.MockResponse {
			return testhelpers.Result(lead)
		})

		value, err := client.GetFieldValue(context.Background(), Lead, "5", "email")
		require.NoError(t, err)
		assert.Equal(t, "jo@example.com", value)

		requests := requestsFor(mock, "crm.lead.get")
		require.Len(t, requests, 1)
		assert.Equal(t, "5", requests[0].Params["id"])
	})

	t.Run("by lookup field", func(t *testing.T) {
		client, mock := setupClient(t, Options{})
		mock.Handle("crm.lead.list", func(testhelpers.RecordedRequest) testhelpers.MockResponse {
			return testhelpers.Result([]map[string]any{lead})
		})

		value, err := client.GetFieldValue(context.Background(), Lead, " jo@example.com ", "Title")
		require.NoError(t, err)
		assert.Equal(t, "Website enquiry", value)

		requests := requestsFor(mock, "crm.lead.list")
		require.Len(t, requests, 1)
		assert.Equal(t, map[string]any{"EMAIL": "jo@example.com"}, requests[0].Params["filter"])
	})

	t.Run("companies are found by title", func(t *testing.T) {
		client, mock := setupClient(t, Options{})
		mock.Handle("crm.company.list", func(testhelpers.RecordedRequest) testhelpers.MockResponse {
			return testhelpers.Result([]map[string]any{{"ID": "8", "TITLE": "Acme", "INDUSTRY": "IT"}})
		})

		value, err := client.GetFieldValue(context.Background(), Company, "Acme", "industry")
		require.NoError(t, err)
		assert.Equal(t, "IT", value)
		assert.Equal(t, map[string]any{"TITLE": "Acme"}, mock.Requests()[0].Params["filter"])
	})

	t.Run("not found", func(t *testing.T) {
		client, mock := setupClient(t, Options{})
		mock.Respond(testhelpers.Result([]any{}))

		value, err := client.GetFieldValue(context.Background(), Contact, "nobody@example.com", "NAME")
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("blank identifier", func(t *testing.T) {
		client, mock := setupClient(t, Options{})

		value, err := client.GetFieldValue(context.Background(), Deal, "  ", "TITLE")
		require.NoError(t, err)
		assert.Nil(t, value)
		assert.Equal(t, 0, mock.RequestCount())
	})
}
