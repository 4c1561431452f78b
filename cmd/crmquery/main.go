// This command is only used for local testing: it runs a single CRM
// operation with the same configuration as the server and prints the result
// as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chinmina/crm-bridge/internal/config"
	"github.com/chinmina/crm-bridge/internal/crm"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Operation  string `env:"UTIL_OPERATION, required"`
	EntityType string `env:"UTIL_ENTITY_TYPE, default=lead"`
	ID         string `env:"UTIL_ID"`
	Field      string `env:"UTIL_FIELD"`

	// Payload is JSON: a filter for find and users, fields for create and
	// update, search options for search.
	Payload string `env:"UTIL_PAYLOAD, default={}"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	crmConfig, err := config.Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading CRM config: %v\n", err)
		os.Exit(1)
	}

	client, err := crm.NewFromConfig(crmConfig, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating CRM client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	result, err := run(context.Background(), client, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cfg.Operation, err)
		os.Exit(1)
	}

	if err := printJSON(os.Stdout, result); err != nil {
		fmt.Fprintf(os.Stderr, "error writing result: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client *crm.Client, cfg Config) (any, error) {
	if strings.EqualFold(cfg.Operation, "users") {
		var filter crm.Filter
		if err := decodePayload(cfg.Payload, &filter); err != nil {
			return nil, err
		}
		return client.GetUsers(ctx, filter), nil
	}

	entityType, err := crm.ParseEntityType(cfg.EntityType)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Operation) {
	case "find":
		var filter crm.Filter
		if err := decodePayload(cfg.Payload, &filter); err != nil {
			return nil, err
		}
		return client.FindEntity(ctx, entityType, filter)

	case "get":
		return client.GetEntity(ctx, entityType, cfg.ID)

	case "create":
		var fields crm.Fields
		if err := decodePayload(cfg.Payload, &fields); err != nil {
			return nil, err
		}
		id, err := client.CreateEntity(ctx, entityType, fields)
		return map[string]string{"id": id}, err

	case "update":
		var fields crm.Fields
		if err := decodePayload(cfg.Payload, &fields); err != nil {
			return nil, err
		}
		return nil, client.UpdateEntity(ctx, entityType, cfg.ID, fields)

	case "delete":
		return nil, client.DeleteEntity(ctx, entityType, cfg.ID)

	case "search":
		var opts crm.SearchOptions
		if err := decodePayload(cfg.Payload, &opts); err != nil {
			return nil, err
		}
		return client.SearchEntities(ctx, entityType, opts)

	case "fields":
		return client.GetEntityFields(ctx, entityType)

	case "value":
		return client.GetFieldValue(ctx, entityType, cfg.ID, cfg.Field)

	case "metrics":
		return client.Metrics(), nil

	default:
		return nil, fmt.Errorf("unknown operation %q", cfg.Operation)
	}
}

func decodePayload(payload string, v any) error {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid UTIL_PAYLOAD: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
