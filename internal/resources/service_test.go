package resources

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/mockapi/internal/apierror"
	"github.com/MarcoPoloResearchLab/mockapi/internal/changes"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
	"github.com/MarcoPoloResearchLab/mockapi/internal/kv"
	"github.com/MarcoPoloResearchLab/mockapi/internal/query"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingPublisher struct {
	events []changes.Event
}

func (p *recordingPublisher) Publish(event changes.Event) {
	p.events = append(p.events, event)
}

type serviceFixture struct {
	service   *Service
	store     *dataset.Store
	publisher *recordingPublisher
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	store, err := dataset.NewStore(kv.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	err = store.InitializeDefaults(context.Background(), map[string][]dataset.Record{
		"orders": {
			{"id": 1, "item": "book", "userId": 1},
			{"id": 2, "item": "pen", "userId": 2},
			{"id": 5, "item": "lamp", "userId": 1},
		},
	}, false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{Store: store, Publisher: publisher})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return serviceFixture{service: service, store: store, publisher: publisher}
}

func ordersTarget(id int64) Target {
	return Target{Key: dataset.DefaultKey("orders"), ID: id, HasID: id != 0}
}

func TestCreateAssignsNextIDAndWritesUserVariant(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	created, err := fixture.service.Create(ctx, ordersTarget(0), Scope{}, dataset.Record{"item": "mug"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id, _ := created.ID(); id != 6 {
		t.Fatalf("expected id 6, got %v", created["id"])
	}

	defaults, err := fixture.store.ReadKey(ctx, dataset.DefaultKey("orders"))
	if err != nil {
		t.Fatalf("read defaults: %v", err)
	}
	if len(defaults) != 3 {
		t.Fatalf("default variant must stay untouched, got %d records", len(defaults))
	}
	current, err := fixture.store.Read(ctx, "orders")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(current) != 4 {
		t.Fatalf("expected user variant with 4 records, got %d", len(current))
	}
	if len(fixture.publisher.events) != 1 || fixture.publisher.events[0].Operation != changes.OperationCreate {
		t.Fatalf("unexpected events %+v", fixture.publisher.events)
	}
}

func TestCreateKeepsSuppliedID(t *testing.T) {
	fixture := newServiceFixture(t)

	created, err := fixture.service.Create(context.Background(), ordersTarget(0), Scope{}, dataset.Record{"id": 42, "item": "mug"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id, _ := created.ID(); id != 42 {
		t.Fatalf("expected supplied id to be kept, got %v", created["id"])
	}
}

func TestCreateStampsOwnerOnScopedRoutes(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	scope := Scope{UserID: 7, UserSpecific: true}

	created, err := fixture.service.Create(ctx, ordersTarget(0), scope, dataset.Record{"item": "mug"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if owner, _ := dataset.IntegerValue(created[UserIDField]); owner != 7 {
		t.Fatalf("expected owner 7, got %v", created[UserIDField])
	}

	explicit, err := fixture.service.Create(ctx, ordersTarget(0), scope, dataset.Record{"item": "cup", "userId": 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if owner, _ := dataset.IntegerValue(explicit[UserIDField]); owner != 3 {
		t.Fatalf("explicit owner must be kept, got %v", explicit[UserIDField])
	}

	unscoped, err := fixture.service.Create(ctx, ordersTarget(0), Scope{UserID: 7}, dataset.Record{"item": "cap"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := unscoped[UserIDField]; ok {
		t.Fatalf("owner must not be stamped on unscoped routes")
	}
}

func TestListAppliesScopeBeforeQuery(t *testing.T) {
	fixture := newServiceFixture(t)

	result, err := fixture.service.List(context.Background(), ordersTarget(0), Scope{UserID: 1, UserSpecific: true},
		query.ParseCriteria(map[string]string{"_sort": "id", "_order": "desc", "_limit": "1"}))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("expected total 2, got %d", result.Total)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected one record, got %d", len(result.Records))
	}
	if id, _ := result.Records[0].ID(); id != 5 {
		t.Fatalf("expected record 5, got %v", result.Records[0]["id"])
	}
}

func TestGetHonoursScope(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	record, err := fixture.service.Get(ctx, ordersTarget(2), Scope{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record["item"] != "pen" {
		t.Fatalf("unexpected record %v", record)
	}

	_, err = fixture.service.Get(ctx, ordersTarget(2), Scope{UserID: 1, UserSpecific: true})
	if apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("expected not found for a record owned by another user, got %v", err)
	}
}

func TestPointOperationsOnUnknownIDFail(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	target := ordersTarget(99)

	if _, err := fixture.service.Get(ctx, target, Scope{}); apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("get: expected not found, got %v", err)
	}
	if _, err := fixture.service.Replace(ctx, target, Scope{}, dataset.Record{}); apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("replace: expected not found, got %v", err)
	}
	if _, err := fixture.service.Patch(ctx, target, Scope{}, dataset.Record{}); apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("patch: expected not found, got %v", err)
	}
	if _, err := fixture.service.Delete(ctx, target, Scope{}); apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("delete: expected not found, got %v", err)
	}
	if _, err := fixture.service.Delete(ctx, ordersTarget(0), Scope{}); apierror.KindOf(err) != apierror.KindBadRequest {
		t.Fatalf("delete without id: expected bad request, got %v", err)
	}
	if len(fixture.publisher.events) != 0 {
		t.Fatalf("failed operations must not publish events")
	}
}

func TestReplaceKeepsPathID(t *testing.T) {
	fixture := newServiceFixture(t)

	replaced, err := fixture.service.Replace(context.Background(), ordersTarget(2), Scope{}, dataset.Record{"id": 77, "item": "pencil"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if id, _ := replaced.ID(); id != 2 {
		t.Fatalf("expected path id 2, got %v", replaced["id"])
	}
	if _, ok := replaced[UserIDField]; ok {
		t.Fatalf("replace must drop fields absent from the body")
	}
}

func TestPatchMergesShallowly(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	patched, err := fixture.service.Patch(ctx, ordersTarget(1), Scope{}, dataset.Record{"item": "novel", "qty": 2})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched["item"] != "novel" || patched["qty"] != 2 {
		t.Fatalf("unexpected patched record %v", patched)
	}
	if owner, _ := dataset.IntegerValue(patched[UserIDField]); owner != 1 {
		t.Fatalf("patch must keep untouched fields, got %v", patched)
	}
}

func ownerOf(t *testing.T, record dataset.Record) int64 {
	t.Helper()
	owner, ok := dataset.IntegerValue(record[UserIDField])
	if !ok {
		t.Fatalf("record has no numeric owner: %v", record)
	}
	return owner
}

func TestReplaceAndPatchStampOwnerOnScopedRoutes(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	scope := Scope{UserID: 7, UserSpecific: true}

	for _, id := range []int64{9, 10, 11} {
		if _, err := fixture.service.Create(ctx, ordersTarget(0), Scope{}, dataset.Record{"id": id, "item": "cup"}); err != nil {
			t.Fatalf("create %d: %v", id, err)
		}
	}

	replaced, err := fixture.service.Replace(ctx, ordersTarget(9), scope, dataset.Record{"item": "mug"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if owner := ownerOf(t, replaced); owner != 7 {
		t.Fatalf("replace must stamp the acting user, got %d", owner)
	}

	patched, err := fixture.service.Patch(ctx, ordersTarget(10), scope, dataset.Record{"qty": 3})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if owner := ownerOf(t, patched); owner != 7 {
		t.Fatalf("patch must stamp the acting user, got %d", owner)
	}

	explicit, err := fixture.service.Replace(ctx, ordersTarget(11), scope, dataset.Record{"item": "bowl", "userId": 3})
	if err != nil {
		t.Fatalf("replace with owner: %v", err)
	}
	if owner := ownerOf(t, explicit); owner != 3 {
		t.Fatalf("replace must keep an explicit owner, got %d", owner)
	}

	handedOver, err := fixture.service.Patch(ctx, ordersTarget(9), scope, dataset.Record{"userId": 4})
	if err != nil {
		t.Fatalf("patch with owner: %v", err)
	}
	if owner := ownerOf(t, handedOver); owner != 4 {
		t.Fatalf("patch must keep an explicit owner, got %d", owner)
	}

	stored, err := fixture.store.Read(ctx, "orders")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if owner := ownerOf(t, stored[dataset.IndexOf(stored, 10)]); owner != 7 {
		t.Fatalf("stamped owner must be persisted, got %d", owner)
	}
}

func TestPointWritesHonourScope(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	foreign := Scope{UserID: 2, UserSpecific: true}

	if _, err := fixture.service.Replace(ctx, ordersTarget(1), foreign, dataset.Record{"item": "stolen"}); apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("replace: expected not found, got %v", err)
	}
	if _, err := fixture.service.Patch(ctx, ordersTarget(1), foreign, dataset.Record{"item": "stolen"}); apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("patch: expected not found, got %v", err)
	}
	if _, err := fixture.service.Delete(ctx, ordersTarget(1), foreign); apierror.KindOf(err) != apierror.KindNotFound {
		t.Fatalf("delete: expected not found, got %v", err)
	}
	if len(fixture.publisher.events) != 0 {
		t.Fatalf("rejected writes must not publish events")
	}

	record, err := fixture.service.Get(ctx, ordersTarget(1), Scope{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record["item"] != "book" {
		t.Fatalf("foreign writes must not change the record, got %v", record)
	}

	if _, err := fixture.service.Delete(ctx, ordersTarget(1), Scope{UserID: 1, UserSpecific: true}); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	deleted, err := fixture.service.Delete(ctx, ordersTarget(1), Scope{})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("unexpected deleted id %d", deleted)
	}
	records, err := fixture.store.Read(ctx, "orders")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 || dataset.IndexOf(records, 1) != -1 {
		t.Fatalf("record 1 should be gone, got %v", records)
	}
}

func TestStorageFailuresAreLogged(t *testing.T) {
	backend := kv.NewMemoryStore()
	store, err := dataset.NewStore(backend, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := backend.Set(context.Background(), dataset.DefaultKey("orders").String(), []byte("{broken")); err != nil {
		t.Fatalf("set: %v", err)
	}
	core, logs := observer.New(zap.ErrorLevel)
	service, err := NewService(ServiceConfig{Store: store, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	_, err = service.List(context.Background(), ordersTarget(0), Scope{}, query.Criteria{})
	if apierror.KindOf(err) != apierror.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	entries := logs.FilterField(zap.String("code", "resources.list.read_failed")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one logged failure, got %d", len(entries))
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected constructor error")
	}
}
