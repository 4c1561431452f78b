package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// EntityType tags one of the four CRM entities the client operates on.
type EntityType string

const (
	Lead    EntityType = "lead"
	Deal    EntityType = "deal"
	Contact EntityType = "contact"
	Company EntityType = "company"
)

// ParseEntityType accepts an entity tag, ignoring case and surrounding space.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.valid() {
		return "", &UnsupportedEntityTypeError{Type: s}
	}
	return t, nil
}

func (t EntityType) valid() bool {
	switch t {
	case Lead, Deal, Contact, Company:
		return true
	default:
		return false
	}
}

// method returns the REST method name for verb, e.g. crm.lead.list.
func (t EntityType) method(verb string) string {
	return "crm." + string(t) + "." + verb
}

// selectFields lists the fields requested from list methods. Multi-value
// communication fields are not covered by "*" and must be named.
func (t EntityType) selectFields() []string {
	switch t {
	case Lead, Contact:
		return []string{"*", "UF_*", "EMAIL", "PHONE"}
	default:
		return []string{"*", "UF_*"}
	}
}

// lookupField is the field matched when an entity is identified by something
// other than its numeric ID.
func (t EntityType) lookupField() string {
	switch t {
	case Lead, Contact:
		return "EMAIL"
	default:
		return "TITLE"
	}
}

// entityKey is the cache index entry for a single entity.
func entityKey(t EntityType, id string) string {
	return string(t) + ":" + id
}

// listKey is the cache index entry for every list read of an entity type, so
// that creating an entity drops cached lists it might now belong to.
func listKey(t string) string {
	return t + ":*"
}

// Entity is a CRM record as returned by the remote API.
type Entity map[string]any

// ID returns the entity's identifier, or "" if it has none.
func (e Entity) ID() string {
	switch id := e["ID"].(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// UnsupportedEntityTypeError is returned by generic dispatch for a tag that is
// not one of lead, deal, contact or company.
type UnsupportedEntityTypeError struct {
	Type string
}

func (e *UnsupportedEntityTypeError) Error() string {
	return fmt.Sprintf("unsupported entity type %q", e.Type)
}

func (e *UnsupportedEntityTypeError) Status() (int, string) {
	return http.StatusBadRequest, e.Error()
}

// InvalidArgumentError reports a request that cannot be sent to the CRM.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

func (e *InvalidArgumentError) Status() (int, string) {
	return http.StatusBadRequest, e.Error()
}

func decode[T any](raw json.RawMessage) (T, error) {
	var value T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	err := dec.Decode(&value)
	return value, err
}

// isEmptyResult reports results that carry nothing worth caching.
func isEmptyResult(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "[]", "{}", `""`:
		return true
	default:
		return false
	}
}
