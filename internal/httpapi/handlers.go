package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-engine/internal/cart"
	"github.com/noah-isme/cart-engine/internal/common"
	"github.com/noah-isme/cart-engine/internal/condition"
	"github.com/noah-isme/cart-engine/internal/events"
	"github.com/noah-isme/cart-engine/internal/item"
	"github.com/noah-isme/cart-engine/internal/migration"
	"github.com/noah-isme/cart-engine/internal/money"
	"github.com/noah-isme/cart-engine/internal/obs"
	"github.com/noah-isme/cart-engine/internal/store"
)

// IdentityHeader carries the cart owner key on every request.
const IdentityHeader = "X-Cart-Identity"

// Handler wires the cart engine to HTTP.
type Handler struct {
	Backend         store.Backend
	Events          *events.Bus
	Migrations      *migration.Service
	Metrics         *obs.CartMetrics
	Logger          zerolog.Logger
	Validate        *validator.Validate
	DefaultInstance string
	MergeStrategy   migration.Strategy
	Currency        string
}

// Routes mounts the cart endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/carts", func(c chi.Router) {
		c.Post("/", h.Create)
		c.Get("/", h.Instances)
		c.Post("/merge", h.Merge)
		c.Post("/takeover", h.Takeover)
		c.Route("/{instance}", func(ci chi.Router) {
			ci.Get("/", h.Get)
			ci.Delete("/", h.Clear)
			ci.Get("/content", h.Content)
			ci.Post("/content", h.RestoreContent)
			ci.Post("/items", h.AddItem)
			ci.Patch("/items/{itemID}", h.UpdateItem)
			ci.Delete("/items/{itemID}", h.RemoveItem)
			ci.Post("/items/{itemID}/conditions", h.AddItemCondition)
			ci.Delete("/items/{itemID}/conditions", h.ClearItemConditions)
			ci.Delete("/items/{itemID}/conditions/{name}", h.RemoveItemCondition)
			ci.Post("/conditions", h.AddCondition)
			ci.Delete("/conditions", h.ClearConditions)
			ci.Delete("/conditions/{name}", h.RemoveCondition)
		})
	})
}

type conditionPayload struct {
	Name       string         `json:"name" validate:"required"`
	Type       string         `json:"type"`
	Target     string         `json:"target" validate:"required,oneof=item subtotal total"`
	Value      string         `json:"value" validate:"required"`
	Order      int            `json:"order"`
	Attributes map[string]any `json:"attributes"`
}

type itemPayload struct {
	ID            string             `json:"id" validate:"required"`
	Name          string             `json:"name" validate:"required"`
	Price         money.Amount       `json:"price"`
	Quantity      int                `json:"quantity" validate:"required,min=1"`
	Attributes    map[string]any     `json:"attributes"`
	Conditions    []conditionPayload `json:"conditions" validate:"dive"`
	AssociatedRef map[string]any     `json:"associatedRef"`
}

type itemChangesPayload struct {
	Name             *string        `json:"name"`
	Price            *money.Amount  `json:"price"`
	Quantity         *int           `json:"quantity"`
	QuantityAbsolute bool           `json:"quantityAbsolute"`
	Attributes       map[string]any `json:"attributes"`
}

// Create returns a cart handle, minting a guest identity when the request
// carries none.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(r)
	if identity == "" {
		identity = uuid.NewString()
	}
	common.JSONData(w, http.StatusCreated, map[string]any{
		"identity": identity,
		"instance": h.instanceName(""),
	})
}

// Get returns the cart view for one instance.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	common.JSONData(w, http.StatusOK, h.view(c))
}

// Instances lists the instance names stored for the identity.
func (h *Handler) Instances(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(r)
	if identity == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "missing "+IdentityHeader+" header", nil)
		return
	}
	instances, err := h.Backend.Instances(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, map[string]any{"identity": identity, "instances": instances})
}

// AddItem inserts an item or increments an existing one.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	var payload itemPayload
	if !h.decode(w, r, &payload) {
		return
	}
	conds, err := toConditions(payload.Conditions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_, err = c.AddItem(r.Context(), item.Params{
		ID:            payload.ID,
		Name:          payload.Name,
		Price:         payload.Price,
		Quantity:      payload.Quantity,
		Attributes:    payload.Attributes,
		Conditions:    condition.NewSet(conds...),
		AssociatedRef: payload.AssociatedRef,
	})
	if err != nil {
		h.mutationFailed(w, "add_item", err)
		return
	}
	h.countMutation("add_item")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// UpdateItem applies partial changes to one item. Quantity is a delta unless
// quantityAbsolute is set; reaching zero removes the item.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemID")
	var payload itemChangesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	changes := cart.ItemChanges{
		Name:             payload.Name,
		Price:            payload.Price,
		QuantityAbsolute: payload.QuantityAbsolute,
		Attributes:       payload.Attributes,
	}
	if payload.Quantity != nil {
		changes.Quantity = *payload.Quantity
	} else if payload.QuantityAbsolute {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "quantity is required when quantityAbsolute is set", nil)
		return
	}
	_, found, err := c.UpdateItem(r.Context(), itemID, changes)
	if err != nil {
		h.mutationFailed(w, "update_item", err)
		return
	}
	if !found {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
		return
	}
	h.countMutation("update_item")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// RemoveItem deletes one item. Removing a missing item succeeds.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	if err := c.RemoveItem(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		h.mutationFailed(w, "remove_item", err)
		return
	}
	h.countMutation("remove_item")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// AddCondition attaches a subtotal or total scoped condition to the cart.
func (h *Handler) AddCondition(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	var payload conditionPayload
	if !h.decode(w, r, &payload) {
		return
	}
	cond, err := toCondition(payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := c.AddCondition(r.Context(), cond); err != nil {
		h.mutationFailed(w, "add_condition", err)
		return
	}
	h.countMutation("add_condition")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// RemoveCondition detaches a cart condition by name.
func (h *Handler) RemoveCondition(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	removed, err := c.RemoveCondition(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.mutationFailed(w, "remove_condition", err)
		return
	}
	if !removed {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "condition not found", nil)
		return
	}
	h.countMutation("remove_condition")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// ClearConditions removes every cart-level condition.
func (h *Handler) ClearConditions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	if err := c.ClearConditions(r.Context()); err != nil {
		h.mutationFailed(w, "clear_conditions", err)
		return
	}
	h.countMutation("clear_conditions")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// AddItemCondition attaches an item-scoped condition to one item.
func (h *Handler) AddItemCondition(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	var payload conditionPayload
	if !h.decode(w, r, &payload) {
		return
	}
	cond, err := toCondition(payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	found, err := c.AddItemCondition(r.Context(), chi.URLParam(r, "itemID"), cond)
	if err != nil {
		h.mutationFailed(w, "add_item_condition", err)
		return
	}
	if !found {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
		return
	}
	h.countMutation("add_item_condition")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// RemoveItemCondition detaches a named condition from one item.
func (h *Handler) RemoveItemCondition(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	removed, err := c.RemoveItemCondition(r.Context(), chi.URLParam(r, "itemID"), chi.URLParam(r, "name"))
	if err != nil {
		h.mutationFailed(w, "remove_item_condition", err)
		return
	}
	if !removed {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item or condition not found", nil)
		return
	}
	h.countMutation("remove_item_condition")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// ClearItemConditions removes every condition from one item.
func (h *Handler) ClearItemConditions(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	found, err := c.ClearItemConditions(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.mutationFailed(w, "clear_item_conditions", err)
		return
	}
	if !found {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "item not found", nil)
		return
	}
	h.countMutation("clear_item_conditions")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	if err := c.Clear(r.Context()); err != nil {
		h.mutationFailed(w, "clear", err)
		return
	}
	h.countMutation("clear")
	common.JSONData(w, http.StatusOK, h.view(c))
}

// Content returns the raw serialization snapshot for the instance.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r)
	if !ok {
		return
	}
	common.JSONData(w, http.StatusOK, c.Content())
}

// RestoreContent replaces the stored instance with the posted snapshot.
func (h *Handler) RestoreContent(w http.ResponseWriter, r *http.Request) {
	identity := h.identity(r)
	if identity == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "missing "+IdentityHeader+" header", nil)
		return
	}
	instance := h.instanceName(chi.URLParam(r, "instance"))
	var content cart.Content
	if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := cart.Restore(r.Context(), h.Backend, identity, instance, content); err != nil {
		h.mutationFailed(w, "restore", err)
		return
	}
	h.countMutation("restore")
	c, err := cart.Load(r.Context(), h.cartConfig(), identity, instance)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, h.view(c))
}

type migrationPayload struct {
	SourceIdentity string `json:"sourceIdentity" validate:"required"`
	Instance       string `json:"instance"`
	Strategy       string `json:"strategy"`
}

// Merge folds a source identity's cart into the authenticated identity.
// Without an instance the merge spans every instance of the source.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	h.migrate(w, r, "merge", func(r *http.Request, target string, payload migrationPayload) (map[string]bool, error) {
		strategy := h.MergeStrategy
		if strings.TrimSpace(payload.Strategy) != "" {
			strategy = migration.Strategy(payload.Strategy)
		}
		if payload.Instance != "" {
			ok, err := h.Migrations.MergeIdentities(r.Context(), payload.SourceIdentity, target, payload.Instance, strategy)
			if err != nil {
				return nil, err
			}
			return map[string]bool{payload.Instance: ok}, nil
		}
		return h.Migrations.MergeAllInstances(r.Context(), payload.SourceIdentity, target, strategy)
	})
}

// Takeover transfers a source identity's cart to the authenticated identity,
// keeping any existing target cart.
func (h *Handler) Takeover(w http.ResponseWriter, r *http.Request) {
	h.migrate(w, r, "takeover", func(r *http.Request, target string, payload migrationPayload) (map[string]bool, error) {
		if payload.Instance != "" {
			ok, err := h.Migrations.Takeover(r.Context(), payload.SourceIdentity, target, payload.Instance)
			if err != nil {
				return nil, err
			}
			return map[string]bool{payload.Instance: ok}, nil
		}
		return h.Migrations.TakeoverAllInstances(r.Context(), payload.SourceIdentity, target)
	})
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request, kind string, run func(r *http.Request, target string, payload migrationPayload) (map[string]bool, error)) {
	if h.Migrations == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "migration service not configured", nil)
		return
	}
	target := h.identity(r)
	if target == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "missing "+IdentityHeader+" header", nil)
		return
	}
	var payload migrationPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if payload.SourceIdentity == target {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "source and target identity must differ", nil)
		return
	}
	results, err := run(r, target, payload)
	if err != nil {
		h.countMigration(kind, "error")
		h.writeError(w, err)
		return
	}
	h.countMigration(kind, "ok")
	common.JSONData(w, http.StatusOK, map[string]any{
		"targetIdentity": target,
		"results":        results,
	})
}

func (h *Handler) identity(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdentityHeader))
}

func (h *Handler) instanceName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		name = h.DefaultInstance
	}
	if name == "" {
		name = "default"
	}
	return name
}

func (h *Handler) cartConfig() cart.Config {
	return cart.Config{Backend: h.Backend, Events: h.Events, Logger: h.Logger}
}

func (h *Handler) loadCart(w http.ResponseWriter, r *http.Request) (*cart.Cart, bool) {
	if h.Backend == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "storage backend not configured", nil)
		return nil, false
	}
	identity := h.identity(r)
	if identity == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "missing "+IdentityHeader+" header", nil)
		return nil, false
	}
	c, err := cart.Load(r.Context(), h.cartConfig(), identity, h.instanceName(chi.URLParam(r, "instance")))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return c, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	validate := h.Validate
	if validate == nil {
		validate = validator.New()
	}
	if err := validate.Struct(v); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", "request validation failed", validationDetails(err))
		return false
	}
	return true
}

func (h *Handler) view(c *cart.Cart) map[string]any {
	content := c.Content()
	return map[string]any{
		"identity":                  c.Identity(),
		"instance":                  c.Instance(),
		"items":                     content.Items,
		"conditions":                content.Conditions,
		"count":                     content.Count,
		"quantity":                  content.Quantity,
		"rawSubtotal":               c.RawSubtotal(),
		"subtotalWithoutConditions": c.SubtotalWithoutConditions(),
		"subtotal":                  content.Subtotal,
		"total":                     content.Total,
		"savings":                   c.Savings(),
		"currency":                  h.Currency,
	}
}

func (h *Handler) countMutation(operation string) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.Mutations.WithLabelValues(operation).Inc()
}

func (h *Handler) countMigration(kind, result string) {
	if h.Metrics == nil {
		return
	}
	h.Metrics.Migrations.WithLabelValues(kind, result).Inc()
}

// mutationFailed records a payload ceiling rejection before rendering the
// error response.
func (h *Handler) mutationFailed(w http.ResponseWriter, operation string, err error) {
	if h.Metrics != nil && errors.Is(err, store.ErrPayloadTooLarge) {
		h.Metrics.PayloadRejections.WithLabelValues(operation).Inc()
	}
	h.writeError(w, err)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	var validationErr *common.ValidationError
	if errors.As(err, &validationErr) {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", validationErr.Error(), map[string]string{
			"field":  validationErr.Field,
			"reason": validationErr.Reason,
		})
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = "BAD_REQUEST"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, store.ErrPayloadTooLarge):
		common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error(), nil)
	case errors.Is(err, condition.ErrInvalidValue), errors.Is(err, condition.ErrMissingField):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	default:
		h.Logger.Error().Err(err).Msg("cart handler failure")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func toCondition(p conditionPayload) (condition.Condition, error) {
	return condition.New(condition.Params{
		Name:       p.Name,
		Kind:       p.Type,
		Target:     condition.Target(p.Target),
		Value:      p.Value,
		Order:      p.Order,
		Attributes: p.Attributes,
	})
}

func toConditions(payloads []conditionPayload) ([]condition.Condition, error) {
	conds := make([]condition.Condition, 0, len(payloads))
	for _, p := range payloads {
		cond, err := toCondition(p)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func validationDetails(err error) any {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	details := make([]map[string]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, map[string]string{"field": fe.Field(), "rule": fe.Tag()})
	}
	return details
}
