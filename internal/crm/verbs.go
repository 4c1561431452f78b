package crm

import "context"

// FindLeads returns leads matching filter, or nil if none match or the
// lookup failed.
func (c *Client) FindLeads(ctx context.Context, filter Filter) []Entity {
	return c.find(ctx, Lead, filter)
}

func (c *Client) FindDeals(ctx context.Context, filter Filter) []Entity {
	return c.find(ctx, Deal, filter)
}

func (c *Client) FindContacts(ctx context.Context, filter Filter) []Entity {
	return c.find(ctx, Contact, filter)
}

func (c *Client) FindCompanies(ctx context.Context, filter Filter) []Entity {
	return c.find(ctx, Company, filter)
}

// GetLead returns the lead with the given id, or nil if it does not exist
// or the lookup failed.
func (c *Client) GetLead(ctx context.Context, id string) Entity {
	return c.get(ctx, Lead, id)
}

func (c *Client) GetDeal(ctx context.Context, id string) Entity {
	return c.get(ctx, Deal, id)
}

func (c *Client) GetContact(ctx context.Context, id string) Entity {
	return c.get(ctx, Contact, id)
}

func (c *Client) GetCompany(ctx context.Context, id string) Entity {
	return c.get(ctx, Company, id)
}

// CreateLead creates a lead and returns its id.
func (c *Client) CreateLead(ctx context.Context, fields Fields) (string, error) {
	return c.create(ctx, Lead, fields)
}

func (c *Client) CreateDeal(ctx context.Context, fields Fields) (string, error) {
	return c.create(ctx, Deal, fields)
}

func (c *Client) CreateContact(ctx context.Context, fields Fields) (string, error) {
	return c.create(ctx, Contact, fields)
}

func (c *Client) CreateCompany(ctx context.Context, fields Fields) (string, error) {
	return c.create(ctx, Company, fields)
}

func (c *Client) UpdateLead(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, Lead, id, fields)
}

func (c *Client) UpdateDeal(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, Deal, id, fields)
}

func (c *Client) UpdateContact(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, Contact, id, fields)
}

func (c *Client) UpdateCompany(ctx context.Context, id string, fields Fields) error {
	return c.update(ctx, Company, id, fields)
}

func (c *Client) DeleteLead(ctx context.Context, id string) error {
	return c.delete(ctx, Lead, id)
}

func (c *Client) DeleteDeal(ctx context.Context, id string) error {
	return c.delete(ctx, Deal, id)
}

func (c *Client) DeleteContact(ctx context.Context, id string) error {
	return c.delete(ctx, Contact, id)
}

func (c *Client) DeleteCompany(ctx context.Context, id string) error {
	return c.delete(ctx, Company, id)
}
