// Package dispatch is the entry point of the mock backend: it authorizes,
// routes and executes requests and packages HTTP-shaped responses.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/mockapi/internal/apierror"
	"github.com/MarcoPoloResearchLab/mockapi/internal/auth"
	"github.com/MarcoPoloResearchLab/mockapi/internal/changes"
	"github.com/MarcoPoloResearchLab/mockapi/internal/dataset"
	"github.com/MarcoPoloResearchLab/mockapi/internal/protected"
	"github.com/MarcoPoloResearchLab/mockapi/internal/query"
	"github.com/MarcoPoloResearchLab/mockapi/internal/resources"
	"github.com/MarcoPoloResearchLab/mockapi/internal/routing"
	"github.com/MarcoPoloResearchLab/mockapi/internal/users"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderTotalCount    = "X-Total-Count"
	HeaderRequestID     = "X-Request-Id"

	contentTypeJSON = "application/json"

	routeRegister = "register"
	routeLogin    = "login"

	opDispatch  = "dispatch.request"
	opAuthorize = "dispatch.authorize"
	opDecode    = "dispatch.decode_body"
)

var (
	errMissingStore     = errors.New("dispatch: dataset store is required")
	errMissingRegistry  = errors.New("dispatch: protected route registry is required")
	errMissingResolver  = errors.New("dispatch: route resolver is required")
	errMissingTokens    = errors.New("dispatch: token service is required")
	errMissingResources = errors.New("dispatch: resource service is required")
	errMissingUsers     = errors.New("dispatch: user service is required")
)

// Request is a fetch-style call addressed to the mock host.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the HTTP-shaped outcome of a Request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the JSON body into target.
func (r Response) Decode(target any) error {
	return json.Unmarshal(r.Body, target)
}

// Config wires the dispatcher's collaborators.
type Config struct {
	Store     *dataset.Store
	Registry  *protected.Registry
	Resolver  *routing.Resolver
	Tokens    *auth.TokenService
	Resources *resources.Service
	Users     *users.Service
	Publisher changes.Publisher
	Delayer   Delayer
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Dispatcher serves requests one at a time once their latency window elapses.
type Dispatcher struct {
	store     *dataset.Store
	registry  *protected.Registry
	resolver  *routing.Resolver
	tokens    *auth.TokenService
	resources *resources.Service
	users     *users.Service
	publisher changes.Publisher
	delayer   Delayer
	clock     func() time.Time
	logger    *zap.Logger

	mu sync.Mutex
}

// New validates cfg and builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Registry == nil:
		return nil, errMissingRegistry
	case cfg.Resolver == nil:
		return nil, errMissingResolver
	case cfg.Tokens == nil:
		return nil, errMissingTokens
	case cfg.Resources == nil:
		return nil, errMissingResources
	case cfg.Users == nil:
		return nil, errMissingUsers
	}
	delayer := cfg.Delayer
	if delayer == nil {
		delayer = NoDelay{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:     cfg.Store,
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		tokens:    cfg.Tokens,
		resources: cfg.Resources,
		users:     cfg.Users,
		publisher: cfg.Publisher,
		delayer:   delayer,
		clock:     clock,
		logger:    logger,
	}, nil
}

// BaseURL reports the mock host requests must be addressed to.
func (d *Dispatcher) BaseURL() string {
	return d.resolver.BaseURL()
}

// Do waits out the simulated latency, then executes request. Failures are
// reported as non-2xx responses with an {"error": message} body.
func (d *Dispatcher) Do(ctx context.Context, request Request) Response {
	started := d.clock()
	requestID := newRequestID()

	var response Response
	if err := d.delayer.Wait(ctx); err != nil {
		response = failure(apierror.Wrap(apierror.KindBadRequest, opDispatch, "request cancelled", err))
	} else {
		response = d.serialize(ctx, request, requestID)
	}

	if response.Header == nil {
		response.Header = make(http.Header)
	}
	response.Header.Set(HeaderContentType, contentTypeJSON)
	if requestID != "" {
		response.Header.Set(HeaderRequestID, requestID)
	}

	d.logger.Debug("request dispatched",
		zap.String("request_id", requestID),
		zap.String("method", normalizeMethod(request.Method)),
		zap.String("url", request.URL),
		zap.Int("status", response.Status),
		zap.Duration("latency", d.clock().Sub(started)))
	return response
}

// Reset drops every user variant so default data is visible again.
func (d *Dispatcher) Reset(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names, err := d.store.ResetUserData(ctx)
	if err != nil {
		d.logger.Error("reset failed", zap.Error(err))
		return nil, err
	}
	if d.publisher != nil {
		for _, name := range names {
			d.publisher.Publish(changes.Event{Collection: name, Operation: changes.OperationReset})
		}
	}
	d.logger.Info("user data reset", zap.Strings("collections", names))
	return names, nil
}

// serialize runs one request under the dispatcher lock. A handler panic is
// reported as an internal failure and never leaves the lock held.
func (d *Dispatcher) serialize(ctx context.Context, request Request, requestID string) (response Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("request handler panicked",
				zap.String("operation", opDispatch),
				zap.String("request_id", requestID),
				zap.String("url", request.URL),
				zap.Any("panic", recovered))
			response = failure(apierror.New(apierror.KindInternal, opDispatch, "internal error"))
		}
	}()
	return d.handle(ctx, request)
}

func (d *Dispatcher) handle(ctx context.Context, request Request) Response {
	method := normalizeMethod(request.Method)
	route := d.resolver.Parse(request.URL)
	authorization := request.Header.Get(HeaderAuthorization)

	if method == http.MethodPost {
		switch route.LastSegment() {
		case routeRegister:
			return d.register(ctx, request)
		case routeLogin:
			return d.login(ctx, request)
		}
	}

	rule, protectedRoute, err := d.registry.Match(ctx, route.Collection)
	if err != nil {
		d.logger.Error("protection rules unavailable", zap.String("operation", opAuthorize), zap.Error(err))
		return failure(apierror.Wrap(apierror.KindInternal, opAuthorize, "protection rules unavailable", err))
	}
	if protectedRoute && rule.Requires(method) {
		verification := d.tokens.Verify(authorization)
		if !verification.Valid() {
			d.logAuthorizationFailure(route.Collection, method, verification.Err)
			return failure(apierror.Unauthorized(opAuthorize))
		}
	}

	var userID auth.UserID
	if strings.TrimSpace(authorization) != "" {
		userID, _ = d.tokens.ExtractUserID(authorization)
	}

	resolved, err := d.resolver.Resolve(ctx, request.URL)
	if err != nil {
		return failure(apierror.Wrap(apierror.KindInternal, opDispatch, "route resolution failed", err))
	}
	if !resolved.Found {
		return failure(apierror.NotFound(opDispatch, "Not Found"))
	}

	target := resources.Target{Key: resolved.Key, ID: resolved.ID, HasID: resolved.HasID}
	scope := resources.Scope{UserID: int64(userID), UserSpecific: protectedRoute && rule.IsUserSpecific}

	switch method {
	case http.MethodGet:
		if target.HasID {
			record, err := d.resources.Get(ctx, target, scope)
			if err != nil {
				return failure(err)
			}
			return success(http.StatusOK, record, nil)
		}
		result, err := d.resources.List(ctx, target, scope, query.ParseCriteria(resolved.Params))
		if err != nil {
			return failure(err)
		}
		header := make(http.Header)
		header.Set(HeaderTotalCount, strconv.Itoa(result.Total))
		return success(http.StatusOK, result.Records, header)
	case http.MethodPost:
		record, err := decodeRecord(request.Body)
		if err != nil {
			return failure(err)
		}
		created, err := d.resources.Create(ctx, target, scope, record)
		if err != nil {
			return failure(err)
		}
		return success(http.StatusCreated, created, nil)
	case http.MethodPut, http.MethodPatch:
		if !target.HasID {
			return failure(apierror.BadRequest(opDispatch, "Invalid request for url: "+request.URL))
		}
		record, err := decodeRecord(request.Body)
		if err != nil {
			return failure(err)
		}
		var updated dataset.Record
		if method == http.MethodPut {
			updated, err = d.resources.Replace(ctx, target, scope, record)
		} else {
			updated, err = d.resources.Patch(ctx, target, scope, record)
		}
		if err != nil {
			return failure(err)
		}
		return success(http.StatusOK, updated, nil)
	case http.MethodDelete:
		if !target.HasID {
			return failure(apierror.BadRequest(opDispatch, "Invalid request for url: "+request.URL))
		}
		deleted, err := d.resources.Delete(ctx, target, scope)
		if err != nil {
			return failure(err)
		}
		return success(http.StatusOK, map[string]int64{"deleted": deleted}, nil)
	default:
		return failure(apierror.BadRequest(opDispatch, "Invalid request for url: "+request.URL))
	}
}

func (d *Dispatcher) register(ctx context.Context, request Request) Response {
	account, err := decodeRecord(request.Body)
	if err != nil {
		return failure(err)
	}
	if _, err := d.users.Register(ctx, account); err != nil {
		return failure(err)
	}
	return success(http.StatusCreated, map[string]string{"message": users.RegisteredMessage}, nil)
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (d *Dispatcher) login(ctx context.Context, request Request) Response {
	var payload loginPayload
	if err := json.Unmarshal(request.Body, &payload); err != nil {
		return failure(apierror.Wrap(apierror.KindBadRequest, opDecode, "request body must be a JSON object", err))
	}
	token, err := d.users.Login(ctx, payload.Username, payload.Password)
	if err != nil {
		return failure(err)
	}
	return success(http.StatusOK, map[string]string{"token": token}, nil)
}

func (d *Dispatcher) logAuthorizationFailure(collection, method string, err error) {
	fields := []zap.Field{
		zap.String("operation", opAuthorize),
		zap.String("collection", collection),
		zap.String("method", method),
		zap.Error(err),
	}
	if errors.Is(err, auth.ErrExpiredToken) {
		d.logger.Info("expired token rejected", fields...)
		return
	}
	d.logger.Warn("request unauthorized", fields...)
}

func decodeRecord(body []byte) (dataset.Record, error) {
	var record dataset.Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, opDecode, "request body must be a JSON object", err)
	}
	if record == nil {
		return nil, apierror.BadRequest(opDecode, "request body must be a JSON object")
	}
	return record, nil
}

func success(status int, payload any, header http.Header) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(apierror.Wrap(apierror.KindInternal, opDispatch, "response encoding failed", err))
	}
	if header == nil {
		header = make(http.Header)
	}
	return Response{Status: status, Header: header, Body: body}
}

func failure(err error) Response {
	body, _ := json.Marshal(map[string]string{"error": apierror.Message(err)})
	return Response{Status: StatusFor(err), Header: make(http.Header), Body: body}
}

func normalizeMethod(method string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(method))
	if trimmed == "" {
		return http.MethodGet
	}
	return trimmed
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
