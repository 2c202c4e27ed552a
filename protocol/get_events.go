package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stellar/go-stellar-sdk/strkey"
	"github.com/stellar/go-stellar-sdk/xdr"
)

const GetEventsMethodName = "getEvents"

const (
	MaxFiltersLimit     = 5
	MaxTopicCount       = 4
	MaxContractIDsLimit = 5
	// WildCard matches any topic segment.
	WildCard = "*"
)

const (
	EventTypeSystem     = "system"
	EventTypeContract   = "contract"
	EventTypeDiagnostic = "diagnostic"
)

var eventTypeFromXDR = map[xdr.ContractEventType]string{
	xdr.ContractEventTypeSystem:     EventTypeSystem,
	xdr.ContractEventTypeContract:   EventTypeContract,
	xdr.ContractEventTypeDiagnostic: EventTypeDiagnostic,
}

// GetEventTypeFromEventTypeXDR maps xdr event types to their names.
func GetEventTypeFromEventTypeXDR() map[xdr.ContractEventType]string {
	return eventTypeFromXDR
}

// GetEventTypeXDRFromEventType maps event type names to their xdr values.
func GetEventTypeXDRFromEventType() map[string]xdr.ContractEventType {
	result := make(map[string]xdr.ContractEventType, len(eventTypeFromXDR))
	for k, v := range eventTypeFromXDR {
		result[v] = k
	}
	return result
}

// Cursor identifies an event by the application order of its transaction
// and its index within the transaction.
type Cursor struct {
	Order uint64
	Event uint32
}

// String returns a string representation of this cursor
func (c Cursor) String() string {
	return fmt.Sprintf("%019d-%010d", c.Order, c.Event)
}

// Next returns the first cursor after c.
func (c Cursor) Next() Cursor {
	if c.Event == math.MaxUint32 {
		return Cursor{Order: c.Order + 1}
	}
	c.Event++
	return c
}

// ParseCursor parses the given string and returns the corresponding cursor
func ParseCursor(input string) (Cursor, error) {
	parts := strings.SplitN(input, "-", 2)
	if len(parts) != 2 {
		return Cursor{}, fmt.Errorf("invalid event id %s", input)
	}

	order, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid event id %s: %w", input, err)
	}
	event, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid event id %s: %w", input, err)
	}
	return Cursor{Order: order, Event: uint32(event)}, nil
}

// EndCursor is the cursor following every event of the transaction applied
// with the given order.
func EndCursor(order uint64) Cursor {
	return Cursor{Order: order, Event: math.MaxUint32}
}

// TopicFilter is a list of segments, each a base64 encoded ScVal or "*".
type TopicFilter []string

type EventFilter struct {
	// EventType is a comma separated list of event types; empty matches all.
	EventType   string        `json:"type,omitempty"`
	ContractIDs []string      `json:"contractIds,omitempty"`
	Topics      []TopicFilter `json:"topics,omitempty"`
}

type PaginationOptions struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  uint   `json:"limit,omitempty"`
}

type GetEventsRequest struct {
	StartLedger uint32             `json:"startLedger,omitempty"`
	EndLedger   uint32             `json:"endLedger,omitempty"`
	Filters     []EventFilter      `json:"filters"`
	Pagination  *PaginationOptions `json:"pagination,omitempty"`
}

type EventInfo struct {
	EventType                string   `json:"type"`
	Ledger                   uint32   `json:"ledger"`
	LedgerClosedAt           string   `json:"ledgerClosedAt"`
	ContractID               string   `json:"contractId"`
	ID                       string   `json:"id"`
	InSuccessfulContractCall bool     `json:"inSuccessfulContractCall"`
	TransactionHash          string   `json:"txHash"`
	TopicXDR                 []string `json:"topic"`
	ValueXDR                 string   `json:"value"`
}

type GetEventsResponse struct {
	Events []EventInfo `json:"events"`
	// Cursor resumes the scan after the last returned or scanned event.
	Cursor       string `json:"cursor"`
	LatestLedger uint32 `json:"latestLedger"`
}

func (g *GetEventsRequest) Valid(maxLimit uint) error {
	if g.Pagination != nil {
		if g.Pagination.Limit > maxLimit {
			return fmt.Errorf("limit must not exceed %d", maxLimit)
		}
		if g.Pagination.Cursor != "" {
			if g.StartLedger != 0 || g.EndLedger != 0 {
				return errors.New("ledger ranges and cursor cannot both be set")
			}
			if _, err := ParseCursor(g.Pagination.Cursor); err != nil {
				return err
			}
		}
	}
	if g.EndLedger != 0 && g.EndLedger <= g.StartLedger {
		return errors.New("endLedger must be after startLedger")
	}

	if len(g.Filters) > MaxFiltersLimit {
		return fmt.Errorf("maximum %d filters per request", MaxFiltersLimit)
	}
	for i, filter := range g.Filters {
		if err := filter.Valid(); err != nil {
			return fmt.Errorf("filter %d invalid: %w", i+1, err)
		}
	}
	return nil
}

// Matches reports whether event passes any of the filters. A request without
// filters matches every event.
func (g *GetEventsRequest) Matches(event xdr.DiagnosticEvent) bool {
	if len(g.Filters) == 0 {
		return true
	}
	for _, filter := range g.Filters {
		if filter.Matches(event) {
			return true
		}
	}
	return false
}

func (e *EventFilter) Valid() error {
	for _, eventType := range e.EventTypes() {
		if _, ok := GetEventTypeXDRFromEventType()[eventType]; !ok {
			return fmt.Errorf("invalid event type: %q", eventType)
		}
	}
	if len(e.ContractIDs) > MaxContractIDsLimit {
		return fmt.Errorf("maximum %d contract IDs per filter", MaxContractIDsLimit)
	}
	for i, id := range e.ContractIDs {
		if _, err := strkey.Decode(strkey.VersionByteContract, id); err != nil {
			return fmt.Errorf("contract ID %d invalid", i+1)
		}
	}
	if len(e.Topics) > MaxFiltersLimit {
		return fmt.Errorf("maximum %d topics per filter", MaxFiltersLimit)
	}
	for i, topic := range e.Topics {
		if err := topic.Valid(); err != nil {
			return fmt.Errorf("topic %d invalid: %w", i+1, err)
		}
	}
	return nil
}

// EventTypes splits the comma separated event type list.
func (e *EventFilter) EventTypes() []string {
	if e.EventType == "" {
		return nil
	}
	types := strings.Split(e.EventType, ",")
	for i := range types {
		types[i] = strings.TrimSpace(types[i])
	}
	return types
}

func (e *EventFilter) Matches(event xdr.DiagnosticEvent) bool {
	return e.matchesEventType(event) && e.matchesContractIDs(event) && e.matchesTopics(event)
}

func (e *EventFilter) matchesEventType(event xdr.DiagnosticEvent) bool {
	types := e.EventTypes()
	if len(types) == 0 {
		return true
	}
	name := eventTypeFromXDR[event.Event.Type]
	for _, eventType := range types {
		if eventType == name {
			return true
		}
	}
	return false
}

func (e *EventFilter) matchesContractIDs(event xdr.DiagnosticEvent) bool {
	if len(e.ContractIDs) == 0 {
		return true
	}
	if event.Event.ContractId == nil {
		return false
	}
	needle := strkey.MustEncode(strkey.VersionByteContract, event.Event.ContractId[:])
	for _, id := range e.ContractIDs {
		if id == needle {
			return true
		}
	}
	return false
}

func (e *EventFilter) matchesTopics(event xdr.DiagnosticEvent) bool {
	if len(e.Topics) == 0 {
		return true
	}
	v0, ok := event.Event.Body.GetV0()
	if !ok {
		return false
	}
	for _, topicFilter := range e.Topics {
		if topicFilter.Matches(v0.Topics) {
			return true
		}
	}
	return false
}

func (t TopicFilter) Valid() error {
	if len(t) < 1 {
		return errors.New("topic must have at least one segment")
	}
	if len(t) > MaxTopicCount {
		return fmt.Errorf("topic cannot have more than %d segments", MaxTopicCount)
	}
	for _, segment := range t {
		if segment == WildCard {
			continue
		}
		var scVal xdr.ScVal
		if err := xdr.SafeUnmarshalBase64(segment, &scVal); err != nil {
			return fmt.Errorf("invalid topic segment %q", segment)
		}
	}
	return nil
}

// Matches reports whether the filter has as many segments as the event has
// topics and every segment equals its topic or is a wildcard.
func (t TopicFilter) Matches(event []xdr.ScVal) bool {
	if len(t) != len(event) {
		return false
	}
	for i, segment := range t {
		if segment == WildCard {
			continue
		}
		var want xdr.ScVal
		if err := xdr.SafeUnmarshalBase64(segment, &want); err != nil {
			return false
		}
		wantBytes, err := want.MarshalBinary()
		if err != nil {
			return false
		}
		gotBytes, err := event[i].MarshalBinary()
		if err != nil || !bytes.Equal(wantBytes, gotBytes) {
			return false
		}
	}
	return true
}
