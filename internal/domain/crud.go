package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// UpdateType is the kind of local mutation an upload queue entry records.
type UpdateType string

const (
	// UpdateTypePut inserts or replaces a whole row.
	UpdateTypePut UpdateType = "PUT"
	// UpdateTypePatch updates the listed columns of an existing row.
	UpdateTypePatch UpdateType = "PATCH"
	// UpdateTypeDelete removes a row.
	UpdateTypeDelete UpdateType = "DELETE"
)

// ParseUpdateType is strict: tags are matched exactly and anything else is
// rejected with ErrInvalidOperationKind.
func ParseUpdateType(tag string) (UpdateType, error) {
	switch UpdateType(tag) {
	case UpdateTypePut, UpdateTypePatch, UpdateTypeDelete:
		return UpdateType(tag), nil
	}
	return "", errors.Wrapf(ErrInvalidOperationKind, "unknown operation %q", tag)
}

func (u UpdateType) String() string {
	return string(u)
}

func (u *UpdateType) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return errors.Wrap(ErrInvalidOperationKind, "operation is not a string")
	}
	parsed, err := ParseUpdateType(tag)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// ClientIDFromUint64 widens an unsigned queue id into the signed range used
// by CrudEntry, failing for values that would not fit.
func ClientIDFromUint64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, errors.Wrapf(ErrClientIDOutOfRange, "client id %d", v)
	}
	return int64(v), nil
}

// CrudEntry is one pending local mutation in the upload queue.
type CrudEntry struct {
	// ClientID is the auto-incrementing queue id. It orders entries and is
	// never reused.
	ClientID int64
	// ID is the id of the mutated row.
	ID    string
	Op    UpdateType
	Table string
	// TransactionID groups the entries of one local transaction.
	TransactionID *int64
	// OpData holds the new column values for PUT and PATCH, nil for DELETE.
	OpData map[string]*string
}

type crudEntryJSON struct {
	ClientID      json.Number                `json:"clientId"`
	ID            string                     `json:"id"`
	Op            UpdateType                 `json:"op"`
	Table         string                     `json:"type"`
	TransactionID *int64                     `json:"transactionId,omitempty"`
	Data          map[string]json.RawMessage `json:"data,omitempty"`
}

func (e CrudEntry) MarshalJSON() ([]byte, error) {
	out := crudEntryJSON{
		ClientID:      json.Number(strconv.FormatInt(e.ClientID, 10)),
		ID:            e.ID,
		Op:            e.Op,
		Table:         e.Table,
		TransactionID: e.TransactionID,
	}

	if e.OpData != nil {
		out.Data = make(map[string]json.RawMessage, len(e.OpData))
		for k, v := range e.OpData {
			if v == nil {
				out.Data[k] = json.RawMessage("null")
				continue
			}
			raw, err := json.Marshal(*v)
			if err != nil {
				return nil, err
			}
			out.Data[k] = raw
		}
	}

	return json.Marshal(out)
}

func (e *CrudEntry) UnmarshalJSON(data []byte) error {
	var in crudEntryJSON
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&in); err != nil {
		return err
	}

	if in.ClientID == "" {
		return errors.Wrap(ErrPreconditionViolation, "missing client id")
	}
	clientID, err := parseClientID(in.ClientID)
	if err != nil {
		return err
	}

	op := in.Op
	if op == "" {
		return errors.Wrap(ErrInvalidOperationKind, "missing operation")
	}

	*e = CrudEntry{
		ClientID:      clientID,
		ID:            in.ID,
		Op:            op,
		Table:         in.Table,
		TransactionID: in.TransactionID,
		OpData:        decodeOpData(in.Data),
	}
	return nil
}

func parseClientID(n json.Number) (int64, error) {
	if v, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return v, nil
	}
	u, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrClientIDOutOfRange, "client id %s", n)
	}
	return ClientIDFromUint64(u)
}

// decodeOpData keeps values that have a string form. Strings are taken as is,
// numbers and booleans by their JSON text, null stays nil. Objects and arrays
// are dropped.
func decodeOpData(raw map[string]json.RawMessage) map[string]*string {
	if raw == nil {
		return nil
	}

	out := make(map[string]*string, len(raw))
	for k, v := range raw {
		v = bytes.TrimSpace(v)
		if len(v) == 0 {
			continue
		}

		switch v[0] {
		case 'n':
			out[k] = nil
		case '"':
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				continue
			}
			out[k] = &s
		case '{', '[':
			continue
		default:
			s := string(v)
			out[k] = &s
		}
	}
	return out
}

// crudRowJSON is the shape persisted in the upload queue table.
type crudRowJSON struct {
	Op    UpdateType                 `json:"op"`
	Table string                     `json:"type"`
	ID    string                     `json:"id"`
	Data  map[string]json.RawMessage `json:"data,omitempty"`
}

// ParseCrudRow builds an entry from a persisted queue row.
func ParseCrudRow(clientID int64, txID *int64, data string) (CrudEntry, error) {
	var row crudRowJSON
	d := json.NewDecoder(bytes.NewReader([]byte(data)))
	d.UseNumber()
	if err := d.Decode(&row); err != nil {
		return CrudEntry{}, errors.Wrapf(err, "could not decode crud entry %d", clientID)
	}
	if row.Op == "" {
		return CrudEntry{}, errors.Wrapf(ErrInvalidOperationKind, "crud entry %d has no operation", clientID)
	}

	e := CrudEntry{
		ClientID:      clientID,
		ID:            row.ID,
		Op:            row.Op,
		Table:         row.Table,
		TransactionID: txID,
	}
	if row.Op != UpdateTypeDelete {
		e.OpData = decodeOpData(row.Data)
	}
	return e, nil
}

// CompleteFunc removes a group of entries from the queue. A non-nil
// writeCheckpoint is stored once the queue is empty.
type CompleteFunc func(ctx context.Context, writeCheckpoint *string) error

// CrudTransaction is all queue entries of one local transaction, in commit order.
type CrudTransaction struct {
	TransactionID *int64
	Crud          []CrudEntry

	complete CompleteFunc
}

func NewCrudTransaction(txID *int64, crud []CrudEntry, complete CompleteFunc) *CrudTransaction {
	return &CrudTransaction{TransactionID: txID, Crud: crud, complete: complete}
}

// Complete acknowledges the transaction, removing all of its entries.
func (t *CrudTransaction) Complete(ctx context.Context, writeCheckpoint *string) error {
	if t.complete == nil {
		return errors.New("crud transaction is not backed by a queue")
	}
	return t.complete(ctx, writeCheckpoint)
}

// CrudBatch is a run of the oldest queue entries, possibly spanning transactions.
type CrudBatch struct {
	Crud    []CrudEntry
	HasMore bool

	complete CompleteFunc
}

func NewCrudBatch(crud []CrudEntry, hasMore bool, complete CompleteFunc) *CrudBatch {
	return &CrudBatch{Crud: crud, HasMore: hasMore, complete: complete}
}

func (b *CrudBatch) Complete(ctx context.Context, writeCheckpoint *string) error {
	if b.complete == nil {
		return errors.New("crud batch is not backed by a queue")
	}
	return b.complete(ctx, writeCheckpoint)
}

// CrudRepo reads and acknowledges the persisted upload queue.
type CrudRepo interface {
	// NextTransaction returns the oldest pending transaction, or nil when the
	// queue is empty.
	NextTransaction(ctx context.Context) (*CrudTransaction, error)
	// Batch returns up to limit of the oldest entries, or nil when the queue
	// is empty.
	Batch(ctx context.Context, limit int) (*CrudBatch, error)
	Pending(ctx context.Context) ([]CrudEntry, error)
	Count(ctx context.Context) (int, error)
}
