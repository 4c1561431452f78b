package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

// Filter is a CRM list filter, e.g. {"EMAIL": "a@example.com", ">OPPORTUNITY": 1000}.
type Filter map[string]any

func (c *Client) find(ctx context.Context, t EntityType, filter Filter) []Entity {
	if filter == nil {
		filter = Filter{}
	}
	params := map[string]any{
		"filter": filter,
		"select": t.selectFields(),
	}

	raw := c.lookup(ctx, t.method("list"), params, c.ttl, listIndex(string(t)))
	if raw == nil {
		return nil
	}

	entities, err := decode[[]Entity](raw)
	if err != nil {
		log.Warn().Err(err).Str("entity", string(t)).Msg("could not decode CRM list result")
		return nil
	}
	return entities
}

func (c *Client) get(ctx context.Context, t EntityType, id string) Entity {
	if id == "" {
		return nil
	}

	index := func(json.RawMessage) []string { return []string{entityKey(t, id)} }
	raw := c.lookup(ctx, t.method("get"), map[string]any{"id": id}, c.ttl, index)
	if raw == nil {
		return nil
	}

	entity, err := decode[Entity](raw)
	if err != nil {
		log.Warn().Err(err).Str("entity", string(t)).Str("id", id).Msg("could not decode CRM entity")
		return nil
	}
	return entity
}

// fields returns the entity type's field metadata. Schema changes rarely, so
// it is cached for FieldsTTL.
func (c *Client) fields(ctx context.Context, t EntityType) Entity {
	raw := c.lookup(ctx, t.method("fields"), nil, c.fieldsTTL, noIndex)
	if raw == nil {
		return nil
	}

	fields, err := decode[Entity](raw)
	if err != nil {
		log.Warn().Err(err).Str("entity", string(t)).Msg("could not decode CRM field metadata")
		return nil
	}
	return fields
}

// GetUsers returns users matching filter, or nil if none match or the lookup
// failed.
func (c *Client) GetUsers(ctx context.Context, filter Filter) []Entity {
	params := map[string]any{}
	if len(filter) > 0 {
		params["FILTER"] = filter
	}

	raw := c.lookup(ctx, "user.get", params, c.ttl, listIndex("user"))
	if raw == nil {
		return nil
	}

	users, err := decode[[]Entity](raw)
	if err != nil {
		log.Warn().Err(err).Msg("could not decode CRM user list")
		return nil
	}
	return users
}

// SearchOptions selects, orders and bounds a search.
type SearchOptions struct {
	Filter Filter            `json:"filter"`
	Select []string          `json:"select"`
	Order  map[string]string `json:"order"`

	// Limit caps the number of results. Defaults to 50, at most 500.
	Limit int `json:"limit"`
}

// search pages through list results until Limit entities are collected or
// the CRM reports no further page. Searches always read fresh data and
// return errors to the caller.
func (c *Client) search(ctx context.Context, t EntityType, opts SearchOptions) ([]Entity, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	filter := opts.Filter
	if filter == nil {
		filter = Filter{}
	}
	selectFields := opts.Select
	if len(selectFields) == 0 {
		selectFields = t.selectFields()
	}

	results := make([]Entity, 0, limit)
	start := 0
	for {
		params := map[string]any{
			"filter": filter,
			"select": selectFields,
			"start":  start,
		}
		if len(opts.Order) > 0 {
			params["order"] = opts.Order
		}

		resp, err := c.call(ctx, t.method("list"), params)
		if err != nil {
			return nil, err
		}

		page, err := decode[[]Entity](resp.Result)
		if err != nil {
			return nil, fmt.Errorf("could not decode %s result: %w", t.method("list"), err)
		}
		results = append(results, page...)

		if len(results) >= limit || resp.Next == nil || len(page) == 0 {
			break
		}
		start = *resp.Next
	}

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// fieldValue locates an entity by numeric ID, or by its lookup field
// (EMAIL for leads and contacts, TITLE otherwise), and returns one of its
// fields. Multi-value fields yield their first value.
func (c *Client) fieldValue(ctx context.Context, t EntityType, identifier, fieldName string) any {
	identifier = strings.TrimSpace(identifier)
	field := canonicalField(fieldName)
	if identifier == "" || field == "" {
		return nil
	}

	var entity Entity
	if _, err := strconv.ParseUint(identifier, 10, 64); err == nil {
		entity = c.get(ctx, t, identifier)
	} else {
		matches := c.find(ctx, t, Filter{t.lookupField(): identifier})
		if len(matches) > 0 {
			entity = matches[0]
		}
	}

	if entity == nil {
		return nil
	}

	return firstValue(entity[field])
}

// canonicalField maps a field name to the upper-case form the CRM uses for
// field codes (TITLE, UF_CRM_1700000000).
func canonicalField(name string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(name))
}

// firstValue unwraps multi-value communication fields, which arrive as a list
// of {"VALUE": ..., "VALUE_TYPE": ...} objects.
func firstValue(v any) any {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return v
	}
	if first, ok := items[0].(map[string]any); ok {
		if value, ok := first["VALUE"]; ok {
			return value
		}
	}
	return v
}

func noIndex(json.RawMessage) []string {
	return nil
}

// listIndex indexes a list result under the type's list entry and under
// every entity it contains.
func listIndex(t string) indexFunc {
	return func(raw json.RawMessage) []string {
		keys := []string{listKey(t)}

		items, err := decode[[]Entity](raw)
		if err != nil {
			return keys
		}
		for _, item := range items {
			if id := item.ID(); id != "" {
				keys = append(keys, t+":"+id)
			}
		}
		return keys
	}
}
