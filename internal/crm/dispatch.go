package crm

import "context"

// FindEntity runs the find verb for the tagged entity type. Only an unknown
// tag is an error; lookup failures yield a nil result as with FindLeads.
func (c *Client) FindEntity(ctx context.Context, t EntityType, filter Filter) ([]Entity, error) {
	switch t {
	case Lead:
		return c.FindLeads(ctx, filter), nil
	case Deal:
		return c.FindDeals(ctx, filter), nil
	case Contact:
		return c.FindContacts(ctx, filter), nil
	case Company:
		return c.FindCompanies(ctx, filter), nil
	default:
		return nil, &UnsupportedEntityTypeError{Type: string(t)}
	}
}

func (c *Client) GetEntity(ctx context.Context, t EntityType, id string) (Entity, error) {
	switch t {
	case Lead:
		return c.GetLead(ctx, id), nil
	case Deal:
		return c.GetDeal(ctx, id), nil
	case Contact:
		return c.GetContact(ctx, id), nil
	case Company:
		return c.GetCompany(ctx, id), nil
	default:
		return nil, &UnsupportedEntityTypeError{Type: string(t)}
	}
}

func (c *Client) CreateEntity(ctx context.Context, t EntityType, fields Fields) (string, error) {
	switch t {
	case Lead:
		return c.CreateLead(ctx, fields)
	case Deal:
		return c.CreateDeal(ctx, fields)
	case Contact:
		return c.CreateContact(ctx, fields)
	case Company:
		return c.CreateCompany(ctx, fields)
	default:
		return "", &UnsupportedEntityTypeError{Type: string(t)}
	}
}

func (c *Client) UpdateEntity(ctx context.Context, t EntityType, id string, fields Fields) error {
	switch t {
	case Lead:
		return c.UpdateLead(ctx, id, fields)
	case Deal:
		return c.UpdateDeal(ctx, id, fields)
	case Contact:
		return c.UpdateContact(ctx, id, fields)
	case Company:
		return c.UpdateCompany(ctx, id, fields)
	default:
		return &UnsupportedEntityTypeError{Type: string(t)}
	}
}

func (c *Client) DeleteEntity(ctx context.Context, t EntityType, id string) error {
	switch t {
	case Lead:
		return c.DeleteLead(ctx, id)
	case Deal:
		return c.DeleteDeal(ctx, id)
	case Contact:
		return c.DeleteContact(ctx, id)
	case Company:
		return c.DeleteCompany(ctx, id)
	default:
		return &UnsupportedEntityTypeError{Type: string(t)}
	}
}

// SearchEntities pages through the entity type's list results. Unlike the
// find verbs it bypasses the cache and returns remote errors.
func (c *Client) SearchEntities(ctx context.Context, t EntityType, opts SearchOptions) ([]Entity, error) {
	if !t.valid() {
		return nil, &UnsupportedEntityTypeError{Type: string(t)}
	}
	return c.search(ctx, t, opts)
}

// GetFieldValue returns a single field of the entity identified by a numeric
// id or by its lookup field. A nil value means the entity or field was not
// found.
func (c *Client) GetFieldValue(ctx context.Context, t EntityType, identifier, field string) (any, error) {
	if !t.valid() {
		return nil, &UnsupportedEntityTypeError{Type: string(t)}
	}
	return c.fieldValue(ctx, t, identifier, field), nil
}

// GetEntityFields returns the field metadata of the entity type.
func (c *Client) GetEntityFields(ctx context.Context, t EntityType) (Entity, error) {
	if !t.valid() {
		return nil, &UnsupportedEntityTypeError{Type: string(t)}
	}
	return c.fields(ctx, t), nil
}
