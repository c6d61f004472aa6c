// Package resources implements the collection CRUD handlers.
package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/mockapi/internal/apierror"
	"github.com/MarcoPoloResearchLab/mockapi/internal/changes"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
	"github.com/MarcoPoloResearchLab/mockapi/internal/query"
	"go.uber.org/zap"
)

// UserIDField is the ownership field stamped on user-scoped records.
const UserIDField = "userId"

var (
	errMissingStore = errors.New("resources: dataset store is required")
	noOpLogger      = zap.NewNop()
)

const (
	opList    = "resources.list"
	opGet     = "resources.get"
	opCreate  = "resources.create"
	opReplace = "resources.replace"
	opPatch   = "resources.patch"
	opDelete  = "resources.delete"
)

// Target addresses a collection, and optionally one record, resolved by the router.
type Target struct {
	// Key is the variant currently backing the collection.
	Key   dataset.Key
	ID    int64
	HasID bool
}

// Scope carries the acting user for user-specific collections.
type Scope struct {
	UserID       int64
	UserSpecific bool
}

// Active reports whether records must be filtered and stamped with UserID.
func (s Scope) Active() bool {
	return s.UserSpecific && s.UserID != 0
}

// ServiceConfig describes the handler dependencies.
type ServiceConfig struct {
	Store     *dataset.Store
	Publisher changes.Publisher
	Logger    *zap.Logger
}

// Service executes CRUD operations against resolved collections. Writes land
// in the collection's user variant so default data is never modified.
type Service struct {
	store     *dataset.Store
	publisher changes.Publisher
	logger    *zap.Logger
}

// NewService validates cfg and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, publisher: cfg.Publisher, logger: logger}, nil
}

// List returns the query-processed records of target together with the
// pre-pagination total.
func (s *Service) List(ctx context.Context, target Target, scope Scope, criteria query.Criteria) (query.Result, error) {
	records, err := s.read(ctx, opList, target)
	if err != nil {
		return query.Result{}, err
	}
	if scope.Active() {
		records = ownedBy(records, scope.UserID)
	}
	return query.Apply(records, criteria), nil
}

// Get returns the single record addressed by target.
func (s *Service) Get(ctx context.Context, target Target, scope Scope) (dataset.Record, error) {
	if !target.HasID {
		return nil, apierror.BadRequest(opGet, "resource id is required")
	}
	records, err := s.read(ctx, opGet, target)
	if err != nil {
		return nil, err
	}
	if scope.Active() {
		records = ownedBy(records, scope.UserID)
	}
	index := dataset.IndexOf(records, target.ID)
	if index < 0 {
		return nil, apierror.NotFound(opGet, "Not Found")
	}
	return records[index], nil
}

// Create appends record, assigning max(id)+1 when it carries no id.
func (s *Service) Create(ctx context.Context, target Target, scope Scope, record dataset.Record) (dataset.Record, error) {
	records, err := s.read(ctx, opCreate, target)
	if err != nil {
		return nil, err
	}
	created := record.Clone()
	stampOwner(created, scope)
	if !created.HasID() {
		created[dataset.IDField] = dataset.NextID(records)
	}
	records = append(records, created)
	if err := s.write(ctx, opCreate, target, records); err != nil {
		return nil, err
	}
	id, _ := created.ID()
	s.publish(target, changes.OperationCreate, id)
	return created, nil
}

// Replace swaps the addressed record for record, keeping the path id.
func (s *Service) Replace(ctx context.Context, target Target, scope Scope, record dataset.Record) (dataset.Record, error) {
	records, index, err := s.locate(ctx, opReplace, target, scope)
	if err != nil {
		return nil, err
	}
	replaced := record.Clone()
	replaced[dataset.IDField] = target.ID
	stampOwner(replaced, scope)
	records[index] = replaced
	if err := s.write(ctx, opReplace, target, records); err != nil {
		return nil, err
	}
	s.publish(target, changes.OperationReplace, target.ID)
	return replaced, nil
}

// Patch shallow-merges fields into the addressed record.
func (s *Service) Patch(ctx context.Context, target Target, scope Scope, fields dataset.Record) (dataset.Record, error) {
	records, index, err := s.locate(ctx, opPatch, target, scope)
	if err != nil {
		return nil, err
	}
	merged := records[index].Clone()
	for field, value := range fields {
		merged[field] = value
	}
	stampOwner(merged, scope)
	records[index] = merged
	if err := s.write(ctx, opPatch, target, records); err != nil {
		return nil, err
	}
	s.publish(target, changes.OperationPatch, target.ID)
	return merged, nil
}

// Delete removes the addressed record.
func (s *Service) Delete(ctx context.Context, target Target, scope Scope) (int64, error) {
	records, index, err := s.locate(ctx, opDelete, target, scope)
	if err != nil {
		return 0, err
	}
	remaining := make([]dataset.Record, 0, len(records)-1)
	remaining = append(remaining, records[:index]...)
	remaining = append(remaining, records[index+1:]...)
	if err := s.write(ctx, opDelete, target, remaining); err != nil {
		return 0, err
	}
	s.publish(target, changes.OperationDelete, target.ID)
	return target.ID, nil
}

// locate finds the addressed record. Under an active scope a record owned by
// another user is reported as missing.
func (s *Service) locate(ctx context.Context, operation string, target Target, scope Scope) ([]dataset.Record, int, error) {
	if !target.HasID {
		return nil, -1, apierror.BadRequest(operation, "resource id is required")
	}
	records, err := s.read(ctx, operation, target)
	if err != nil {
		return nil, -1, err
	}
	index := dataset.IndexOf(records, target.ID)
	if index < 0 || (scope.Active() && !visibleTo(records[index], scope.UserID)) {
		return nil, -1, apierror.NotFound(operation, "Not Found")
	}
	return records, index, nil
}

func (s *Service) read(ctx context.Context, operation string, target Target) ([]dataset.Record, error) {
	records, err := s.store.ReadKey(ctx, target.Key)
	if err != nil {
		if apierror.KindOf(err) != apierror.KindNotFound {
			s.logError(operation, "read_failed", err, zap.String("collection", target.Key.Name))
		}
		return nil, err
	}
	return records, nil
}

func (s *Service) write(ctx context.Context, operation string, target Target, records []dataset.Record) error {
	if err := s.store.WriteKey(ctx, dataset.UserKey(target.Key.Name), records); err != nil {
		s.logError(operation, "write_failed", err, zap.String("collection", target.Key.Name))
		return err
	}
	return nil
}

func (s *Service) publish(target Target, operation changes.Operation, id int64) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(changes.Event{Collection: target.Key.Name, Operation: operation, ID: id})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("code", fmt.Sprintf("%s.%s", operation, reason)),
		zap.Error(err),
	}, fields...)
	s.logger.Error("resource operation failed", allFields...)
}

func stampOwner(record dataset.Record, scope Scope) {
	if !scope.Active() {
		return
	}
	if owner, ok := record[UserIDField]; ok && owner != nil && owner != "" && owner != false {
		if number, isNumber := dataset.IntegerValue(owner); !isNumber || number != 0 {
			return
		}
	}
	record[UserIDField] = scope.UserID
}

func ownedBy(records []dataset.Record, userID int64) []dataset.Record {
	owned := make([]dataset.Record, 0, len(records))
	for _, record := range records {
		if visibleTo(record, userID) {
			owned = append(owned, record)
		}
	}
	return owned
}

// visibleTo reports whether record belongs to userID. Records without an
// owner are visible to everyone.
func visibleTo(record dataset.Record, userID int64) bool {
	owner, ok := record[UserIDField]
	if !ok {
		return true
	}
	number, isNumber := dataset.IntegerValue(owner)
	return isNumber && number == userID
}
