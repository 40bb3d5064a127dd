// Package erptest runs an in-memory imitation of the ERP portal's JSON-RPC endpoints
// for tests.
package erptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"vastfeedback/internal/erp"
)

// Record is a feedback form known to the portal.
type Record struct {
	Id        int64
	Employee  string
	Course    erp.Many2One
	ConfigId  int64
	State     string
	Questions []int64
}

// Mark is one answered question line of a write call.
type Mark struct {
	QuestionId int64
	Value      int
}

// Write is a recorded write call against a record.
type Write struct {
	RecordId int64
	Marks    []Mark
}

// Call is a recorded call, Method is empty for endpoints without one.
type Call struct {
	Path   string
	Method string
	Params json.RawMessage
}

// Portal holds the data the fake portal serves. Fields must be set before Start.
type Portal struct {
	Username  string
	Password  string
	Uid       int64
	SessionId string
	Token     string

	// Groups returned by read_group, in portal order, for the batch, semester and
	// config lookups respectively.
	Batches   []erp.Many2One
	Semesters []erp.Many2One
	Configs   []erp.Many2One
	Records   []Record

	// Fault messages returned for a record id by the given call.
	FailRead   map[int64]string
	FailWrite  map[int64]string
	FailSubmit map[int64]string

	mutex     sync.Mutex
	calls     []Call
	writes    []Write
	submitted []int64
	server    *httptest.Server
}

// Start serves the portal until the test ends and returns its base url.
func (p *Portal) Start(t testing.TB) string {
	if p.Token == "" {
		p.Token = "tok-" + p.SessionId
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.server.Close)
	return p.server.URL
}

func (p *Portal) Calls() []Call {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallCount counts calls to a dataset method ("read_group", "read", "write", "button_submit", ...).
func (p *Portal) CallCount(method string) int {
	count := 0
	for _, c := range p.Calls() {
		if c.Method == method {
			count++
		}
	}
	return count
}

func (p *Portal) Writes() []Write {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]Write(nil), p.writes...)
}

func (p *Portal) Submitted() []int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]int64(nil), p.submitted...)
}

type envelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type fault struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": nil, "result": result})
}

func writeFault(w http.ResponseWriter, code int, message, detail string) {
	w.Header().Set("content-type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": fault{
			Code:    code,
			Message: message,
			Data:    map[string]any{"name": "odoo.exceptions.UserError", "message": detail},
		},
	})
}

func (p *Portal) serve(w http.ResponseWriter, r *http.Request) {
	var env envelope
	err := json.NewDecoder(r.Body).Decode(&env)
	if err != nil || env.Jsonrpc != "2.0" || env.Method != "call" {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/web")
	if path == "/session/authenticate" {
		p.record(Call{Path: path, Params: env.Params})
		p.authenticate(w, env.Params)
		return
	}

	if r.Header.Get("Cookie") != fmt.Sprintf("sid=%s", p.Token) {
		p.record(Call{Path: path, Params: env.Params})
		writeFault(w, 100, "Odoo Session Expired", "Session expired")
		return
	}

	switch path {
	case "/dataset/call_kw":
		p.callKw(w, env.Params)
	case "/dataset/search_read":
		p.record(Call{Path: path, Params: env.Params})
		p.searchRead(w, env.Params)
	case "/dataset/call_button":
		p.callButton(w, env.Params)
	default:
		http.NotFound(w, r)
	}
}

func (p *Portal) record(c Call) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls = append(p.calls, c)
}

func (p *Portal) authenticate(w http.ResponseWriter, raw json.RawMessage) {
	var params struct {
		Db       string `json:"db"`
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	json.Unmarshal(raw, &params)

	if params.Login != p.Username || params.Password != p.Password {
		writeFault(w, 200, "Odoo Server Error", "Access Denied")
		return
	}

	http.SetCookie(w, &http.Cookie{Name: "session_id", Value: p.Token, Path: "/", HttpOnly: true})
	writeResult(w, map[string]any{
		"uid":        p.Uid,
		"session_id": p.SessionId,
		"db":         params.Db,
	})
}

type callKwParams struct {
	Model  string                     `json:"model"`
	Method string                     `json:"method"`
	Args   []json.RawMessage          `json:"args"`
	Kwargs map[string]json.RawMessage `json:"kwargs"`
}

func firstId(raw json.RawMessage) int64 {
	var ids []int64
	json.Unmarshal(raw, &ids)
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}

func (p *Portal) findRecord(id int64) *Record {
	for i := range p.Records {
		if p.Records[i].Id == id {
			return &p.Records[i]
		}
	}
	return nil
}

func (p *Portal) callKw(w http.ResponseWriter, raw json.RawMessage) {
	var params callKwParams
	json.Unmarshal(raw, &params)
	p.record(Call{Path: "/dataset/call_kw", Method: params.Method, Params: raw})

	switch params.Method {
	case "read_group":
		var groupby []string
		json.Unmarshal(params.Kwargs["groupby"], &groupby)
		if len(groupby) != 1 {
			writeFault(w, 200, "Odoo Server Error", "expected exactly one groupby field")
			return
		}
		var source []erp.Many2One
		switch groupby[0] {
		case "gt_batch_id":
			source = p.Batches
		case "semester":
			source = p.Semesters
		case "config_id":
			source = p.Configs
		default:
			writeFault(w, 200, "Odoo Server Error", "unknown groupby field")
			return
		}
		groups := []map[string]any{}
		for _, value := range source {
			groups = append(groups, map[string]any{
				groupby[0]:            value,
				groupby[0] + "_count": 1,
			})
		}
		writeResult(w, groups)
	case "read":
		id := firstId(params.Args[0])
		if message, ok := p.FailRead[id]; ok {
			writeFault(w, 200, message, message)
			return
		}
		record := p.findRecord(id)
		if record == nil {
			writeResult(w, []any{})
			return
		}
		questions := record.Questions
		if questions == nil {
			questions = []int64{}
		}
		writeResult(w, []map[string]any{{"id": id, "questions_line": questions}})
	case "write":
		id := firstId(params.Args[0])
		if message, ok := p.FailWrite[id]; ok {
			writeFault(w, 200, message, message)
			return
		}
		var values struct {
			QuestionsLine [][3]json.RawMessage `json:"questions_line"`
		}
		json.Unmarshal(params.Args[1], &values)

		write := Write{RecordId: id}
		for _, line := range values.QuestionsLine {
			var qid int64
			var mark struct {
				MarkState int `json:"mark_state"`
			}
			json.Unmarshal(line[1], &qid)
			json.Unmarshal(line[2], &mark)
			write.Marks = append(write.Marks, Mark{QuestionId: qid, Value: mark.MarkState})
		}
		p.mutex.Lock()
		p.writes = append(p.writes, write)
		p.mutex.Unlock()
		writeResult(w, true)
	default:
		writeFault(w, 200, "Odoo Server Error", "unknown method")
	}
}

func (p *Portal) searchRead(w http.ResponseWriter, raw json.RawMessage) {
	var params struct {
		Domain [][3]json.RawMessage `json:"domain"`
		Limit  int                  `json:"limit"`
	}
	json.Unmarshal(raw, &params)

	var configId int64
	for _, cond := range params.Domain {
		var field string
		json.Unmarshal(cond[0], &field)
		if field == "config_id" {
			json.Unmarshal(cond[2], &configId)
		}
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	records := []map[string]any{}
	for _, r := range p.Records {
		if r.State != "draft" || (configId != 0 && r.ConfigId != configId) {
			continue
		}
		if params.Limit > 0 && len(records) >= params.Limit {
			break
		}
		records = append(records, map[string]any{
			"id":           r.Id,
			"employeename": r.Employee,
			"course":       r.Course,
			"state":        r.State,
		})
	}
	writeResult(w, map[string]any{"length": len(records), "records": records})
}

func (p *Portal) callButton(w http.ResponseWriter, raw json.RawMessage) {
	var params struct {
		Method string            `json:"method"`
		Args   []json.RawMessage `json:"args"`
	}
	json.Unmarshal(raw, &params)
	p.record(Call{Path: "/dataset/call_button", Method: params.Method, Params: raw})

	id := firstId(params.Args[0])
	if message, ok := p.FailSubmit[id]; ok {
		writeFault(w, 200, message, message)
		return
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if record := p.findRecord(id); record != nil {
		record.State = "done"
	}
	p.submitted = append(p.submitted, id)
	writeResult(w, false)
}
