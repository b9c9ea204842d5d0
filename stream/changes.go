// Package stream turns DynamoDB Streams records into store change
// notifications, so writes made outside the store still invalidate caches
// and reach the change hook.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/strata/store"
)

// Handler processes DynamoDB stream events.
type Handler struct {
	store    *store.Store
	logger   *slog.Logger
	ttlField string
	tenant   func(events.DynamoDBEventRecord) string
}

// Option configures a Handler.
type Option func(*Handler)

// WithTTLField sets the attribute whose first appearance marks a soft
// delete. Default: "ttl".
func WithTTLField(field string) Option {
	return func(h *Handler) { h.ttlField = field }
}

// WithTenantResolver derives the tenant from a record, for example from
// the table name in its event source ARN.
func WithTenantResolver(fn func(events.DynamoDBEventRecord) string) Option {
	return func(h *Handler) { h.tenant = fn }
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		store:    s,
		logger:   logger,
		ttlField: "ttl",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleChanges notifies the store of every record in event.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord maps a single stream record to a change event.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	ev, image, ok := h.classify(record)
	if !ok {
		h.logger.Debug("skipping stream record",
			"eventID", record.EventID,
			"eventName", record.EventName,
		)
		return nil
	}

	doc, err := ImageToEntity(image)
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}
	out, err := h.store.Config().Transformer.Transform(ctx, []store.Entity{doc}, &store.Query{})
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	if len(out) > 0 {
		ev.Data = out[0]
	}
	if h.tenant != nil {
		ev.Tenant = h.tenant(record)
	}

	h.logger.Info("notifying change",
		"eventID", record.EventID,
		"type", ev.Type,
		"softDelete", ev.SoftDelete,
	)
	return h.store.Notify(ctx, ev)
}

// classify picks the change type and the image describing the entity.
func (h *Handler) classify(record events.DynamoDBEventRecord) (store.ChangeEvent, map[string]events.DynamoDBAttributeValue, bool) {
	switch record.EventName {
	case string(events.DynamoDBOperationTypeInsert):
		return store.ChangeEvent{Type: store.ChangeCreate}, record.Change.NewImage, true
	case string(events.DynamoDBOperationTypeModify):
		oldTTL := getNumberAttr(record.Change.OldImage, h.ttlField)
		newTTL := getNumberAttr(record.Change.NewImage, h.ttlField)
		// TTL newly set (was absent/0, now present)
		if oldTTL == 0 && newTTL != 0 {
			return store.ChangeEvent{Type: store.ChangeRemove, SoftDelete: true}, record.Change.NewImage, true
		}
		return store.ChangeEvent{Type: store.ChangeUpdate}, record.Change.NewImage, true
	case string(events.DynamoDBOperationTypeRemove):
		image := record.Change.OldImage
		if image == nil {
			image = record.Change.Keys
		}
		return store.ChangeEvent{Type: store.ChangeRemove}, image, true
	}
	return store.ChangeEvent{}, nil, false
}

// TableFromARN extracts the table name from a stream event source ARN,
// e.g. "arn:aws:dynamodb:eu-west-1:123:table/entities_acme/stream/2024...".
func TableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	table, _, _ := strings.Cut(rest, "/")
	return table
}

// ImageToEntity converts a stream image to an entity. Numbers become
// int64 when integral and float64 otherwise.
func ImageToEntity(image map[string]events.DynamoDBAttributeValue) (store.Entity, error) {
	doc := make(store.Entity, len(image))
	for k, v := range image {
		val, err := attrValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		doc[k] = val
	}
	return doc, nil
}

func attrValue(v events.DynamoDBAttributeValue) (any, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String(), nil
	case events.DataTypeNumber:
		return parseNumber(v.Number())
	case events.DataTypeBoolean:
		return v.Boolean(), nil
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeBinary:
		return v.Binary(), nil
	case events.DataTypeList:
		out := make([]any, 0, len(v.List()))
		for _, item := range v.List() {
			val, err := attrValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case events.DataTypeMap:
		out := make(map[string]any, len(v.Map()))
		for k, item := range v.Map() {
			val, err := attrValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = val
		}
		return out, nil
	case events.DataTypeStringSet:
		out := make([]any, 0, len(v.StringSet()))
		for _, s := range v.StringSet() {
			out = append(out, s)
		}
		return out, nil
	case events.DataTypeNumberSet:
		out := make([]any, 0, len(v.NumberSet()))
		for _, s := range v.NumberSet() {
			n, err := parseNumber(s)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case events.DataTypeBinarySet:
		out := make([]any, 0, len(v.BinarySet()))
		for _, b := range v.BinarySet() {
			out = append(out, b)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported attribute type %v", v.DataType())
}

func parseNumber(s string) (any, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return f, nil
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
