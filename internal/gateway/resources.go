package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	apperrors "github.com/alexjbarnes/dashgate/internal/errors"
)

// Resource is a REST collection behind the gateway, such as
// /rh/employees/. Every call is authenticated with the gateway token.
type Resource struct {
	client *Client
	name   string
	path   string
}

// catalogue maps resource names to collection paths.
var catalogue = map[string]string{
	"auth/users": "/auth/users/",
	"auth/logs":  "/auth/logs/",

	"rh/employees":         "/rh/employees/",
	"rh/contracts":         "/rh/contracts/",
	"rh/leave-requests":    "/rh/leave-requests/",
	"rh/assignments":       "/rh/assignments/",
	"rh/payment-requests":  "/rh/payment-requests/",
	"rh/purchase-requests": "/rh/purchase-requests/",
	"rh/districts":         "/rh/districts/",
	"rh/communes":          "/rh/communes/",
	"rh/fokontany":         "/rh/fokontany/",

	"stock/items":             "/stock/items/",
	"stock/transfers":         "/stock/transfers/",
	"stock/inventories":       "/stock/inventories/",
	"stock/purchase-requests": "/stock/purchase-requests/",
	"stock/logs":              "/stock/logs/",

	"finance/transactions": "/finance/transactions/",
	"finance/invoices":     "/finance/invoices/",
	"finance/payments":     "/finance/payments/",

	"coordinateur/projects": "/coordinateur/projects/",
	"coordinateur/tasks":    "/coordinateur/tasks/",

	"notifications": "/notifications/",
}

// ResourceNames returns the catalogue names in sorted order.
func ResourceNames() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Resource returns the collection rooted at path. A missing leading or
// trailing slash is added.
func (c *Client) Resource(path string) *Resource {
	p := "/" + strings.Trim(path, "/") + "/"

	return &Resource{client: c, name: strings.Trim(path, "/"), path: p}
}

// ResourceByName looks a collection up in the catalogue, e.g. "rh/districts".
func (c *Client) ResourceByName(name string) (*Resource, error) {
	key := strings.ToLower(strings.Trim(name, "/"))

	path, ok := catalogue[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownResource, name)
	}

	return &Resource{client: c, name: key, path: path}, nil
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.name }

// Path returns the collection path, with leading and trailing slash.
func (r *Resource) Path() string { return r.path }

func (r *Resource) itemPath(id string) string {
	return r.path + url.PathEscape(id) + "/"
}

func (r *Resource) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	return r.client.Do(ctx, Request{
		Method: method,
		Path:   path,
		Query:  query,
		Body:   body,
		Auth:   AuthGateway,
	})
}

// List fetches the collection. query may be nil.
func (r *Resource) List(ctx context.Context, query url.Values) (json.RawMessage, error) {
	return r.do(ctx, http.MethodGet, r.path, query, nil)
}

// Get fetches one record.
func (r *Resource) Get(ctx context.Context, id string) (json.RawMessage, error) {
	return r.do(ctx, http.MethodGet, r.itemPath(id), nil, nil)
}

// Create posts a new record.
func (r *Resource) Create(ctx context.Context, body any) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPost, r.path, nil, body)
}

// Update replaces a record (PUT).
func (r *Resource) Update(ctx context.Context, id string, body any) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPut, r.itemPath(id), nil, body)
}

// Patch partially updates a record.
func (r *Resource) Patch(ctx context.Context, id string, body any) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPatch, r.itemPath(id), nil, body)
}

// Delete removes a record.
func (r *Resource) Delete(ctx context.Context, id string) (json.RawMessage, error) {
	return r.do(ctx, http.MethodDelete, r.itemPath(id), nil, nil)
}

// Action posts to a record's action route, <collection>/<id>/<action>/.
// body may be nil.
func (r *Resource) Action(ctx context.Context, id, action string, body any) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPost, r.itemPath(id)+url.PathEscape(action)+"/", nil, body)
}

// CollectionAction posts to a collection-level route, <collection>/<action>/.
func (r *Resource) CollectionAction(ctx context.Context, action string, body any) (json.RawMessage, error) {
	return r.do(ctx, http.MethodPost, r.path+url.PathEscape(action)+"/", nil, body)
}

func (c *Client) mustResource(name string) *Resource {
	r, err := c.ResourceByName(name)
	if err != nil {
		panic(err)
	}

	return r
}

// RHService groups the human-resources collections.
type RHService struct {
	Employees        *Resource
	Contracts        *Resource
	LeaveRequests    *Resource
	Assignments      *Resource
	PaymentRequests  *Resource
	PurchaseRequests *Resource
	Districts        *Resource
	Communes         *Resource
	Fokontany        *Resource
}

// RH returns the human-resources collections.
func (c *Client) RH() RHService {
	return RHService{
		Employees:        c.mustResource("rh/employees"),
		Contracts:        c.mustResource("rh/contracts"),
		LeaveRequests:    c.mustResource("rh/leave-requests"),
		Assignments:      c.mustResource("rh/assignments"),
		PaymentRequests:  c.mustResource("rh/payment-requests"),
		PurchaseRequests: c.mustResource("rh/purchase-requests"),
		Districts:        c.mustResource("rh/districts"),
		Communes:         c.mustResource("rh/communes"),
		Fokontany:        c.mustResource("rh/fokontany"),
	}
}

// EmployeeStats fetches the employee summary.
func (s RHService) EmployeeStats(ctx context.Context) (json.RawMessage, error) {
	return s.Employees.do(ctx, http.MethodGet, s.Employees.path+"stats/", nil, nil)
}

// ValidateLeaveRequest approves or rejects a leave request. reason is
// omitted when empty.
func (s RHService) ValidateLeaveRequest(ctx context.Context, id, status, reason string) (json.RawMessage, error) {
	body := map[string]string{"status": status}
	if reason != "" {
		body["rejection_reason"] = reason
	}

	return s.LeaveRequests.Action(ctx, id, "validate", body)
}

// ValidateAssignment approves or rejects an assignment.
func (s RHService) ValidateAssignment(ctx context.Context, id, status string) (json.RawMessage, error) {
	return s.Assignments.Action(ctx, id, "validate", map[string]string{"status": status})
}

// StockService groups the stock collections.
type StockService struct {
	Items            *Resource
	Transfers        *Resource
	Inventories      *Resource
	PurchaseRequests *Resource
	Logs             *Resource
}

// Stock returns the stock collections.
func (c *Client) Stock() StockService {
	return StockService{
		Items:            c.mustResource("stock/items"),
		Transfers:        c.mustResource("stock/transfers"),
		Inventories:      c.mustResource("stock/inventories"),
		PurchaseRequests: c.mustResource("stock/purchase-requests"),
		Logs:             c.mustResource("stock/logs"),
	}
}

// ApproveTransfer approves a stock transfer request.
func (s StockService) ApproveTransfer(ctx context.Context, id string) (json.RawMessage, error) {
	return s.Transfers.Action(ctx, id, "approve", nil)
}

// RejectTransfer rejects a stock transfer request.
func (s StockService) RejectTransfer(ctx context.Context, id string) (json.RawMessage, error) {
	return s.Transfers.Action(ctx, id, "reject", nil)
}

// ValidatePurchaseRequest validates a stock purchase request.
func (s StockService) ValidatePurchaseRequest(ctx context.Context, id string) (json.RawMessage, error) {
	return s.PurchaseRequests.Action(ctx, id, "validate", nil)
}

// FinanceService groups the finance collections.
type FinanceService struct {
	client       *Client
	Transactions *Resource
	Invoices     *Resource
	Payments     *Resource
}

// Finance returns the finance collections.
func (c *Client) Finance() FinanceService {
	return FinanceService{
		client:       c,
		Transactions: c.mustResource("finance/transactions"),
		Invoices:     c.mustResource("finance/invoices"),
		Payments:     c.mustResource("finance/payments"),
	}
}

// Report fetches the finance report. query may be nil.
func (s FinanceService) Report(ctx context.Context, query url.Values) (json.RawMessage, error) {
	return s.client.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/finance/report/",
		Query:  query,
		Auth:   AuthGateway,
	})
}

// CoordinateurService groups the project coordination collections.
type CoordinateurService struct {
	Projects *Resource
	Tasks    *Resource
}

// Coordinateur returns the project coordination collections.
func (c *Client) Coordinateur() CoordinateurService {
	return CoordinateurService{
		Projects: c.mustResource("coordinateur/projects"),
		Tasks:    c.mustResource("coordinateur/tasks"),
	}
}

// NotificationService wraps the notification collection.
type NotificationService struct {
	*Resource
}

// Notifications returns the notification collection.
func (c *Client) Notifications() NotificationService {
	return NotificationService{Resource: c.mustResource("notifications")}
}

// MarkRead marks one notification as read.
func (s NotificationService) MarkRead(ctx context.Context, id string) (json.RawMessage, error) {
	return s.Action(ctx, id, "read", nil)
}

// MarkAllRead marks every notification as read.
func (s NotificationService) MarkAllRead(ctx context.Context) (json.RawMessage, error) {
	return s.CollectionAction(ctx, "mark-all-read", nil)
}

// Users returns the user administration collection.
func (c *Client) Users() *Resource {
	return c.mustResource("auth/users")
}

// AuditLogs returns the audit log collection.
func (c *Client) AuditLogs() *Resource {
	return c.mustResource("auth/logs")
}
