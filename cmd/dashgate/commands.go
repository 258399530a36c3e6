package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/alexjbarnes/dashgate/internal/config"
	"github.com/alexjbarnes/dashgate/internal/gateway"
	"github.com/alexjbarnes/dashgate/internal/render"
	"github.com/alexjbarnes/dashgate/internal/tokens"
	"golang.org/x/sync/errgroup"
)

// app carries what every subcommand needs.
type app struct {
	client *gateway.Client
	cfg    *config.Config
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	scanner *bufio.Scanner
}

type command struct {
	args    string
	summary string
	minArgs int
	maxArgs int // -1 for unbounded
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":     {"[username]", "log in and store the identity token", 0, 1, (*app).login},
	"logout":    {"", "end the session and clear stored tokens", 0, 0, (*app).logout},
	"register":  {"<json|->", "create a user account (username, password, role...)", 1, 1, (*app).register},
	"whoami":    {"", "show the profile of the logged-in user", 0, 0, (*app).whoami},
	"status":    {"", "show the session state and stored token claims", 0, 0, (*app).status},
	"token":     {"", "print the gateway token, exchanging for one if needed", 0, 0, (*app).token},
	"resources": {"", "list known resource names", 0, 0, (*app).resources},
	"list":      {"<resource> [key=value...]", "list records", 1, -1, (*app).list},
	"get":       {"<resource> <id>", "fetch one record", 2, 2, (*app).get},
	"create":    {"<resource> <json|->", "create a record", 2, 2, (*app).create},
	"update":    {"<resource> <id> <json|->", "replace a record (PUT)", 3, 3, (*app).update},
	"patch":     {"<resource> <id> <json|->", "partially update a record (PATCH)", 3, 3, (*app).patch},
	"delete":    {"<resource> <id>", "delete a record", 2, 2, (*app).remove},
	"call":      {"<METHOD> <path> [json|-]", "send a raw request through the gateway", 2, 3, (*app).call},
	"fetch":     {"<resource>...", "list several resources in parallel", 1, -1, (*app).fetch},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: dashgate <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		c := commands[name]
		fmt.Fprintf(w, "  %-10s %-28s %s\n", name, c.args, c.summary)
	}
}

func (a *app) execute(ctx context.Context, args []string) error {
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (run \"dashgate help\")", args[0])
	}

	rest := args[1:]
	if len(rest) < cmd.minArgs || (cmd.maxArgs >= 0 && len(rest) > cmd.maxArgs) {
		return fmt.Errorf("usage: dashgate %s %s", args[0], cmd.args)
	}

	return cmd.run(a, ctx, rest)
}

// --- session ---

func (a *app) login(ctx context.Context, args []string) error {
	username := a.cfg.Username
	if len(args) == 1 {
		username = args[0]
	}

	var err error
	if username == "" {
		if username, err = a.prompt("Username: "); err != nil {
			return err
		}
	}

	password := a.cfg.Password
	if password == "" {
		if password, err = a.prompt("Password: "); err != nil {
			return err
		}
	}

	if _, err := a.client.Login(ctx, username, password); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "logged in as %s\n", username)

	return nil
}

func (a *app) logout(ctx context.Context, _ []string) error {
	err := a.client.Logout(ctx)

	fmt.Fprintln(a.out, "logged out")

	if err != nil {
		return fmt.Errorf("local session cleared, but the logout call failed: %w", err)
	}

	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	body, err := a.readBody(args[0])
	if err != nil {
		return err
	}

	var req gateway.RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding account: %w", err)
	}

	if req.Username == "" || req.Password == "" {
		return errors.New("account needs a username and a password")
	}

	return a.writeRaw(a.client.Register(ctx, req))
}

func (a *app) whoami(ctx context.Context, _ []string) error {
	p, err := a.client.Me(ctx)
	if err != nil {
		return err
	}

	return a.writeValue(p)
}

// statusReport is what "dashgate status" prints.
type statusReport struct {
	APIURL   string            `json:"api_url"`
	State    string            `json:"state"`
	Profile  *gateway.Profile  `json:"profile,omitempty"`
	Identity gateway.TokenInfo `json:"identity_token"`
	Gateway  gateway.TokenInfo `json:"gateway_token"`
}

func (a *app) status(_ context.Context, _ []string) error {
	report := statusReport{
		APIURL:   a.client.BaseURL(),
		State:    a.client.SessionState().String(),
		Identity: a.client.TokenInfo(tokens.Identity),
		Gateway:  a.client.TokenInfo(tokens.Gateway),
	}

	if p, err := a.client.Profile(); err == nil {
		report.Profile = p
	}

	return a.writeValue(report)
}

func (a *app) token(ctx context.Context, _ []string) error {
	tok, err := a.client.EnsureGatewayToken(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, tok)

	return nil
}

// --- resources ---

func (a *app) resources(_ context.Context, _ []string) error {
	for _, name := range gateway.ResourceNames() {
		fmt.Fprintln(a.out, name)
	}

	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	r, err := a.client.ResourceByName(args[0])
	if err != nil {
		return err
	}

	query, err := parseQuery(args[1:])
	if err != nil {
		return err
	}

	return a.writeRaw(r.List(ctx, query))
}

func (a *app) get(ctx context.Context, args []string) error {
	r, err := a.client.ResourceByName(args[0])
	if err != nil {
		return err
	}

	return a.writeRaw(r.Get(ctx, args[1]))
}

func (a *app) create(ctx context.Context, args []string) error {
	r, err := a.client.ResourceByName(args[0])
	if err != nil {
		return err
	}

	body, err := a.readBody(args[1])
	if err != nil {
		return err
	}

	return a.writeRaw(r.Create(ctx, body))
}

func (a *app) update(ctx context.Context, args []string) error {
	r, err := a.client.ResourceByName(args[0])
	if err != nil {
		return err
	}

	body, err := a.readBody(args[2])
	if err != nil {
		return err
	}

	return a.writeRaw(r.Update(ctx, args[1], body))
}

func (a *app) patch(ctx context.Context, args []string) error {
	r, err := a.client.ResourceByName(args[0])
	if err != nil {
		return err
	}

	body, err := a.readBody(args[2])
	if err != nil {
		return err
	}

	return a.writeRaw(r.Patch(ctx, args[1], body))
}

func (a *app) remove(ctx context.Context, args []string) error {
	r, err := a.client.ResourceByName(args[0])
	if err != nil {
		return err
	}

	return a.writeRaw(r.Delete(ctx, args[1]))
}

func (a *app) call(ctx context.Context, args []string) error {
	method := strings.ToUpper(args[0])

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q", args[0])
	}

	req := gateway.Request{Method: method, Auth: gateway.AuthGateway}

	u, err := url.Parse(args[1])
	if err != nil {
		return fmt.Errorf("parsing path: %w", err)
	}

	if u.IsAbs() {
		return errors.New("call takes a path relative to the API base URL, e.g. /rh/employees/")
	}

	req.Path = "/" + strings.TrimPrefix(u.Path, "/")
	req.Query = u.Query()

	if len(args) == 3 {
		body, err := a.readBody(args[2])
		if err != nil {
			return err
		}
		req.Body = body
	}

	return a.writeRaw(a.client.Do(ctx, req))
}

// fetch lists several resources concurrently. All calls share one gateway
// token exchange. The output is an object keyed by resource name in
// argument order.
func (a *app) fetch(ctx context.Context, args []string) error {
	resources := make([]*gateway.Resource, len(args))
	for i, name := range args {
		r, err := a.client.ResourceByName(name)
		if err != nil {
			return err
		}
		resources[i] = r
	}

	results := make([]json.RawMessage, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range resources {
		g.Go(func() error {
			raw, err := r.List(gctx, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", r.Name(), err)
			}
			results[i] = raw
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, r := range resources {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, _ := json.Marshal(r.Name())
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(results[i])
	}

	buf.WriteByte('}')

	return a.writeRaw(buf.Bytes(), nil)
}

// --- helpers ---

func (a *app) prompt(label string) (string, error) {
	if a.scanner == nil {
		a.scanner = bufio.NewScanner(a.in)
	}

	fmt.Fprint(a.errOut, label)

	if !a.scanner.Scan() {
		if err := a.scanner.Err(); err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return "", errors.New("no input")
	}

	value := strings.TrimSpace(a.scanner.Text())
	if value == "" {
		return "", fmt.Errorf("%s cannot be empty", strings.TrimSuffix(strings.ToLower(label), ": "))
	}

	return value, nil
}

// readBody returns arg as a JSON body, reading stdin when arg is "-".
func (a *app) readBody(arg string) (json.RawMessage, error) {
	data := []byte(arg)

	if arg == "-" {
		var err error
		if data, err = io.ReadAll(a.in); err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
	}

	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, errors.New("body is not valid JSON")
	}

	return json.RawMessage(data), nil
}

func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	query := url.Values{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query parameter %q, expected key=value", pair)
		}
		query.Add(k, v)
	}

	return query, nil
}

func (a *app) writeRaw(raw json.RawMessage, err error) error {
	if err != nil {
		return err
	}

	return render.Write(a.out, raw, a.cfg.Output)
}

func (a *app) writeValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	return render.Write(a.out, data, a.cfg.Output)
}
