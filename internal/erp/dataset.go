package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Context is the portal's per-call context dictionary (lang, tz, uid, search defaults).
type Context map[string]any

// Condition is one `[field, operator, value]` term of a search domain.
type Condition [3]any

func Cond(field, operator string, value any) Condition {
	return Condition{field, operator, value}
}

// Many2One is a relational value, encoded by the portal as `[id, "display name"]`
// or `false` when unset.
type Many2One struct {
	Id   int64
	Name string
}

func (m Many2One) IsSet() bool {
	return m.Id != 0
}

func (m *Many2One) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		*m = Many2One{}
		return nil
	}

	var pair []json.RawMessage
	err := json.Unmarshal(trimmed, &pair)
	if err != nil {
		return fmt.Errorf("many2one: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("many2one: expected [id, name], got %d elements", len(pair))
	}
	var out Many2One
	err = json.Unmarshal(pair[0], &out.Id)
	if err != nil {
		return fmt.Errorf("many2one id: %w", err)
	}
	err = json.Unmarshal(pair[1], &out.Name)
	if err != nil {
		return fmt.Errorf("many2one name: %w", err)
	}
	*m = out
	return nil
}

func (m Many2One) MarshalJSON() ([]byte, error) {
	if !m.IsSet() {
		return []byte("false"), nil
	}
	return json.Marshal([]any{m.Id, m.Name})
}

// Text is a char field, the portal encodes an empty one as `false`.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("false")) || bytes.Equal(trimmed, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	err := json.Unmarshal(trimmed, &s)
	if err != nil {
		return fmt.Errorf("text: %w", err)
	}
	*t = Text(s)
	return nil
}

// Group is one row of a read_group result, it maps the grouped field (and
// aggregate keys like `<field>_count`) to its raw value.
type Group map[string]json.RawMessage

// Many2One decodes the relational value the group was grouped by.
func (g Group) Many2One(field string) (Many2One, error) {
	raw, ok := g[field]
	if !ok {
		return Many2One{}, fmt.Errorf("group has no field %q", field)
	}
	var out Many2One
	err := json.Unmarshal(raw, &out)
	return out, err
}

type CallKwRequest struct {
	Model   string
	Method  string
	Args    []any
	Kwargs  map[string]any
	Context Context
}

type callKwParams struct {
	Model     string         `json:"model"`
	Method    string         `json:"method"`
	Args      []any          `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
	SessionId string         `json:"session_id"`
	Context   Context        `json:"context"`
}

// CallKw invokes a model method through /dataset/call_kw.
func (c *Client) CallKw(ctx context.Context, session Session, req CallKwRequest, out any) error {
	args := req.Args
	if args == nil {
		args = []any{}
	}
	kwargs := req.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return c.Call(ctx, "/dataset/call_kw", callKwParams{
		Model:     req.Model,
		Method:    req.Method,
		Args:      args,
		Kwargs:    kwargs,
		SessionId: session.SessionId,
		Context:   req.Context,
	}, session, out)
}

type ReadGroupRequest struct {
	Model   string
	Domain  []Condition
	Fields  []string
	GroupBy []string
	// KwargsContext is sent inside kwargs, Context at the top level of params.
	KwargsContext Context
	Context       Context
}

// ReadGroup returns the distinct groups of the records matching the domain, in
// the order the portal returns them.
func (c *Client) ReadGroup(ctx context.Context, session Session, req ReadGroupRequest) ([]Group, error) {
	var groups []Group
	err := c.CallKw(ctx, session, CallKwRequest{
		Model:  req.Model,
		Method: "read_group",
		Kwargs: map[string]any{
			"domain":  req.Domain,
			"fields":  req.Fields,
			"groupby": req.GroupBy,
			"context": req.KwargsContext,
		},
		Context: req.Context,
	}, &groups)
	return groups, err
}

type SearchReadRequest struct {
	Model   string
	Fields  []string
	Domain  []Condition
	Context Context
	Limit   int
}

type searchReadParams struct {
	Model     string      `json:"model"`
	Fields    []string    `json:"fields"`
	Domain    []Condition `json:"domain"`
	Context   Context     `json:"context"`
	SessionId string      `json:"session_id"`
	Limit     int         `json:"limit"`
}

type searchReadResult struct {
	Length  int             `json:"length"`
	Records json.RawMessage `json:"records"`
}

// SearchRead lists records through /dataset/search_read, out should be a pointer to
// a slice of the record type.
func (c *Client) SearchRead(ctx context.Context, session Session, req SearchReadRequest, out any) error {
	var result searchReadResult
	err := c.Call(ctx, "/dataset/search_read", searchReadParams{
		Model:     req.Model,
		Fields:    req.Fields,
		Domain:    req.Domain,
		Context:   req.Context,
		SessionId: session.SessionId,
		Limit:     req.Limit,
	}, session, &result)
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return nil
	}
	err = json.Unmarshal(result.Records, out)
	if err != nil {
		return &TransportFault{Path: "/dataset/search_read", Err: fmt.Errorf("unmarshal records: %w", err)}
	}
	return nil
}

type CallButtonRequest struct {
	Model  string
	Method string
	Ids    []int64
	// ButtonContext is passed as the button's argument, Context at the top level.
	ButtonContext Context
	Context       Context
}

type callButtonParams struct {
	Model     string  `json:"model"`
	Method    string  `json:"method"`
	Args      []any   `json:"args"`
	SessionId string  `json:"session_id"`
	Context   Context `json:"context"`
}

// CallButton triggers a form button action through /dataset/call_button.
func (c *Client) CallButton(ctx context.Context, session Session, req CallButtonRequest) error {
	return c.Call(ctx, "/dataset/call_button", callButtonParams{
		Model:     req.Model,
		Method:    req.Method,
		Args:      []any{req.Ids, req.ButtonContext},
		SessionId: session.SessionId,
		Context:   req.Context,
	}, session, nil)
}
