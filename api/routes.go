package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"nestedset/audit"
	"nestedset/engine"
	"nestedset/memtree"
	"nestedset/nestedset"
	"nestedset/registry"
	"nestedset/store"
	"nestedset/treequery"
)

// Handler wires a registry and a fixed host-table schema to HTTP
// handlers. One nestedsetd process serves one schema (one host table
// shape); tenant selects which database file backs a request, and tree
// selects which scope within it, when the schema is in multi-tree mode.
type Handler struct {
	reg    *registry.Registry
	schema nestedset.Schema
	audit  audit.Recorder
}

// NewHandler creates a Handler over reg for the given schema.
func NewHandler(reg *registry.Registry, schema nestedset.Schema) *Handler {
	return &Handler{reg: reg, schema: schema, audit: audit.NewSQLRecorder()}
}

// NewRouter builds the full nestedsetd route table: health checks
// (unauthenticated), admin tenant management, and tenant/tree-scoped
// node operations, each wrapped in the standard middleware chain plus
// JWT auth (a no-op when auth is disabled).
func NewRouter(reg *registry.Registry, schema nestedset.Schema, tokens *TokenService) http.Handler {
	h := NewHandler(reg, schema)
	mux := http.NewServeMux()

	auth := JWTAuthMiddleware(tokens)
	withTenant := WithTenant(reg)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)

	mux.Handle("POST /admin/v1/tenants/{tenant}", auth(http.HandlerFunc(h.CreateTenant)))

	mux.Handle("POST /{tenant}/{tree}/v1/root", auth(withTenant(http.HandlerFunc(h.MakeRoot))))
	mux.Handle("POST /{tenant}/{tree}/v1/nodes", auth(withTenant(http.HandlerFunc(h.Insert))))
	mux.Handle("POST /{tenant}/{tree}/v1/nodes/{pk}/move", auth(withTenant(http.HandlerFunc(h.Move))))
	mux.Handle("DELETE /{tenant}/{tree}/v1/nodes/{pk}", auth(withTenant(http.HandlerFunc(h.Delete))))
	mux.Handle("GET /{tenant}/{tree}/v1/nodes/{pk}/descendants", auth(withTenant(http.HandlerFunc(h.Descendants))))
	mux.Handle("GET /{tenant}/{tree}/v1/nodes/{pk}/ancestors", auth(withTenant(http.HandlerFunc(h.Ancestors))))
	mux.Handle("GET /{tenant}/{tree}/v1/tree", auth(withTenant(http.HandlerFunc(h.Tree))))
	mux.Handle("GET /{tenant}/{tree}/v1/ws", auth(withTenant(http.HandlerFunc(h.Stream))))

	return WithDefaults(mux)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	if _, err := h.reg.Create(r.Context(), tenant); err != nil {
		if err == registry.ErrTenantExists {
			http.Error(w, "tenant already exists", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) engine(r *http.Request) engine.Engine {
	handle := HandleFrom(r.Context())
	return engine.New(h.schema, handle.Store).WithAudit(h.audit, ActorFrom(r.Context()))
}

func (h *Handler) MakeRoot(w http.ResponseWriter, r *http.Request) {
	var payload nestedset.Row
	if !decodeJSON(w, r, &payload) {
		return
	}
	row, err := h.engine(r).MakeRoot(r.Context(), payload)
	if writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

type insertRequest struct {
	Position string        `json:"position"`
	Target   any           `json:"target"`
	Payload  nestedset.Row `json:"payload"`
}

func (h *Handler) Insert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pos, err := engine.ParsePosition(req.Position)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	target := nestedset.Row{h.schema.PrimaryKey: req.Target}
	row, err := h.engine(r).Move(r.Context(), pos, req.Payload, target)
	if writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

type moveRequest struct {
	Position string `json:"position"`
	Target   any    `json:"target"`
}

func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	pk := r.PathValue("pk")
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pos, err := engine.ParsePosition(req.Position)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	node := nestedset.Row{h.schema.PrimaryKey: pk}
	target := nestedset.Row{h.schema.PrimaryKey: req.Target}
	row, err := h.engine(r).Move(r.Context(), pos, node, target)
	if writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	pk := r.PathValue("pk")
	node := nestedset.Row{h.schema.PrimaryKey: pk}

	if r.URL.Query().Get("with_children") == "true" {
		count, err := h.engine(r).DeleteWithChildren(r.Context(), node)
		if writeErr(w, err) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": count})
		return
	}

	row, err := h.engine(r).DeleteNode(r.Context(), node)
	if writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) Descendants(w http.ResponseWriter, r *http.Request) {
	h.queryRelative(w, r, treequery.Descendants)
}

func (h *Handler) Ancestors(w http.ResponseWriter, r *http.Request) {
	h.queryRelative(w, r, treequery.Ancestors)
}

func (h *Handler) queryRelative(w http.ResponseWriter, r *http.Request, builder func(nestedset.Schema, nestedset.Row, int) treequery.Query) {
	handle := HandleFrom(r.Context())
	pk := r.PathValue("pk")

	depthLimit := 0
	if d := r.URL.Query().Get("depth"); d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			depthLimit = n
		}
	}

	var result []nestedset.Row
	err := handle.Store.Transact(r.Context(), func(ctx context.Context, tx store.Tx) error {
		self, err := tx.Get(ctx, h.schema.Table, h.schema.PrimaryKey, pk)
		if err != nil {
			return err
		}
		if self == nil {
			return nestedset.ErrTargetIsNew
		}
		result, err = tx.Select(ctx, builder(h.schema, self, depthLimit))
		return err
	})
	if writeErr(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	handle := HandleFrom(r.Context())

	var rows []nestedset.Row
	err := handle.Store.Transact(r.Context(), func(ctx context.Context, tx store.Tx) error {
		q := treequery.New(h.schema.Table)
		if tree := TreeFrom(r.Context()); tree != "" {
			if col, ok := h.schema.TreeColumn(); ok {
				q = q.And(col+" = ?", tree)
			}
		}
		var err error
		rows, err = tx.Select(ctx, q)
		return err
	})
	if writeErr(w, err) {
		return
	}

	forest := memtree.BuildTree(rows, h.schema, "children")
	flat := memtree.FlattenTree(forest, "children")
	writeJSON(w, http.StatusOK, flat)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	switch err {
	case nestedset.ErrRootAlreadyExists, nestedset.ErrAlreadyRoot, nestedset.ErrCannotInsertBeforeRoot,
		nestedset.ErrCannotMoveBeforeAfterRoot, nestedset.ErrCannotMoveToItself, nestedset.ErrCannotMoveToDescendant,
		nestedset.ErrCannotDeleteRoot, nestedset.ErrCannotDeleteNonEmptyRoot, nestedset.ErrTreeRequired,
		nestedset.ErrTargetIsNew:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
	return true
}
