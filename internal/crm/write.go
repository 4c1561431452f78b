package crm

import (
	"context"
	"fmt"
	"strings"
)

// Fields holds the field values of a create or update, e.g. {"TITLE": "New deal"}.
type Fields map[string]any

func (c *Client) create(ctx context.Context, t EntityType, fields Fields) (string, error) {
	if len(fields) == 0 {
		return "", &InvalidArgumentError{Reason: "no fields supplied for new " + string(t)}
	}

	resp, err := c.call(ctx, t.method("add"), map[string]any{"fields": fields})
	if err != nil {
		return "", err
	}

	id := strings.Trim(strings.TrimSpace(string(resp.Result)), `"`)
	if id == "" || id == "null" || id == "false" {
		return "", fmt.Errorf("%s returned no identifier", t.method("add"))
	}

	// the new entity may now match cached list reads
	c.invalidate(ctx, entityKey(t, id), listKey(string(t)))

	return id, nil
}

func (c *Client) update(ctx context.Context, t EntityType, id string, fields Fields) error {
	if id == "" {
		return &InvalidArgumentError{Reason: "an id is required to update a " + string(t)}
	}

	resp, err := c.call(ctx, t.method("update"), map[string]any{"id": id, "fields": fields})
	if err != nil {
		return err
	}
	if err := requireSuccess(t.method("update"), resp.Result); err != nil {
		return err
	}

	c.invalidate(ctx, entityKey(t, id), listKey(string(t)))
	return nil
}

func (c *Client) delete(ctx context.Context, t EntityType, id string) error {
	if id == "" {
		return &InvalidArgumentError{Reason: "an id is required to delete a " + string(t)}
	}

	resp, err := c.call(ctx, t.method("delete"), map[string]any{"id": id})
	if err != nil {
		return err
	}
	if err := requireSuccess(t.method("delete"), resp.Result); err != nil {
		return err
	}

	c.invalidate(ctx, entityKey(t, id), listKey(string(t)))
	return nil
}

// requireSuccess rejects a literal false result, which the CRM uses for
// writes it accepted but did not apply.
func requireSuccess(method string, result []byte) error {
	if strings.TrimSpace(string(result)) == "false" {
		return fmt.Errorf("%s was not applied by the CRM", method)
	}
	return nil
}
