package methods

import (
	"context"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/pkg/errors"

	"github.com/stellar/go-stellar-sdk/strkey"
	"github.com/stellar/go-stellar-sdk/support/log"
	"github.com/stellar/go-stellar-sdk/xdr"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/sandbox"
	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/txstore"
	"github.com/stellar/soroban-sandbox/protocol"
)

type eventsRPCHandler struct {
	sb           *sandbox.Exclusive
	maxLimit     uint
	defaultLimit uint
	logger       *log.Entry
}

func combineContractIDs(filters []protocol.EventFilter) ([]xdr.ContractId, error) {
	seen := map[string]struct{}{}
	contractIDs := make([]xdr.ContractId, 0, len(filters))
	for _, filter := range filters {
		// an unrestricted filter accepts every contract
		if len(filter.ContractIDs) == 0 {
			return nil, nil
		}
		for _, contractID := range filter.ContractIDs {
			if _, ok := seen[contractID]; ok {
				continue
			}
			seen[contractID] = struct{}{}
			id, err := strkey.Decode(strkey.VersionByteContract, contractID)
			if err != nil {
				return nil, errors.Errorf("invalid contract ID: %v", contractID)
			}
			var decoded xdr.ContractId
			copy(decoded[:], id)
			contractIDs = append(contractIDs, decoded)
		}
	}
	return contractIDs, nil
}

func combineEventTypes(filters []protocol.EventFilter) []xdr.ContractEventType {
	seen := map[xdr.ContractEventType]struct{}{}
	eventTypes := make([]xdr.ContractEventType, 0, len(filters))
	for _, filter := range filters {
		types := filter.EventTypes()
		if len(types) == 0 {
			return nil
		}
		for _, eventType := range types {
			eventTypeXDR := protocol.GetEventTypeXDRFromEventType()[eventType]
			if _, ok := seen[eventTypeXDR]; ok {
				continue
			}
			seen[eventTypeXDR] = struct{}{}
			eventTypes = append(eventTypes, eventTypeXDR)
		}
	}
	return eventTypes
}

func (h eventsRPCHandler) getEvents(ctx context.Context, request protocol.GetEventsRequest,
) (protocol.GetEventsResponse, error) {
	if err := request.Valid(h.maxLimit); err != nil {
		return protocol.GetEventsResponse{}, invalidParams("%s", err.Error())
	}

	limit := h.defaultLimit
	if request.Pagination != nil && request.Pagination.Limit > 0 {
		limit = request.Pagination.Limit
	}

	query := txstore.EventQuery{
		StartLedger: request.StartLedger,
		EndLedger:   request.EndLedger,
	}
	if request.Pagination != nil && request.Pagination.Cursor != "" {
		cursor, err := protocol.ParseCursor(request.Pagination.Cursor)
		if err != nil {
			return protocol.GetEventsResponse{}, invalidParams("%s", err.Error())
		}
		query.Start = cursor.Next()
	}

	var err error
	if query.ContractIDs, err = combineContractIDs(request.Filters); err != nil {
		return protocol.GetEventsResponse{}, invalidParams("%s", err.Error())
	}
	query.EventTypes = combineEventTypes(request.Filters)

	var (
		found        []txstore.Event
		latestLedger uint32
		applied      uint64
	)
	err = h.sb.Do(func(s *sandbox.Sandbox) error {
		latestLedger = s.LedgerInfo().SequenceNumber
		applied = s.AppliedTransactions()
		return s.GetEvents(ctx, query, func(event txstore.Event) bool {
			if request.Matches(event.Event) {
				found = append(found, event)
			}
			return uint(len(found)) < limit
		})
	})
	if err != nil {
		return protocol.GetEventsResponse{}, internalError(err)
	}

	results := make([]protocol.EventInfo, 0, len(found))
	for _, entry := range found {
		info, err := eventInfoForEvent(entry)
		if err != nil {
			return protocol.GetEventsResponse{}, internalError(errors.Wrap(err, "could not parse event"))
		}
		results = append(results, info)
	}

	// without a full page the scan reached the latest transaction
	cursor := protocol.EndCursor(applied).String()
	if uint(len(results)) == limit {
		cursor = results[len(results)-1].ID
	}

	return protocol.GetEventsResponse{
		Events:       results,
		Cursor:       cursor,
		LatestLedger: latestLedger,
	}, nil
}

func eventInfoForEvent(entry txstore.Event) (protocol.EventInfo, error) {
	event := entry.Event
	v0, ok := event.Event.Body.GetV0()
	if !ok {
		return protocol.EventInfo{}, errors.New("unknown event version")
	}

	eventType, ok := protocol.GetEventTypeFromEventTypeXDR()[event.Event.Type]
	if !ok {
		return protocol.EventInfo{}, errors.Errorf("unknown XDR ContractEventType type: %d", event.Event.Type)
	}

	info := protocol.EventInfo{
		EventType:                eventType,
		Ledger:                   entry.Ledger,
		LedgerClosedAt:           time.Unix(int64(entry.LedgerCloseTime), 0).UTC().Format(time.RFC3339),
		ID:                       entry.Cursor.String(),
		InSuccessfulContractCall: event.InSuccessfulContractCall,
		TransactionHash:          entry.TransactionHash,
	}

	// base64-xdr encode the topic
	topic := make([]string, 0, protocol.MaxTopicCount)
	for _, segment := range v0.Topics {
		seg, err := xdr.MarshalBase64(segment)
		if err != nil {
			return protocol.EventInfo{}, err
		}
		topic = append(topic, seg)
	}

	// base64-xdr encode the data
	data, err := xdr.MarshalBase64(v0.Data)
	if err != nil {
		return protocol.EventInfo{}, err
	}

	info.TopicXDR = topic
	info.ValueXDR = data

	if event.Event.ContractId != nil {
		info.ContractID = strkey.MustEncode(strkey.VersionByteContract, event.Event.ContractId[:])
	}
	return info, nil
}

// NewGetEventsHandler returns a json rpc handler to fetch and filter events
func NewGetEventsHandler(logger *log.Entry, sb *sandbox.Exclusive, maxLimit, defaultLimit uint) jrpc2.Handler {
	eventsHandler := eventsRPCHandler{
		sb:           sb,
		maxLimit:     maxLimit,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
	return NewHandler(eventsHandler.getEvents)
}
