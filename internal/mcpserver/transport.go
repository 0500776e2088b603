package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"eve.evalgo.org/memory/internal/graphstore"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/search"
)

// Request is one line-delimited JSON-RPC call, dispatched by method name
// to one of the seventeen named KnowledgeGraph operations.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcError mirrors the JSON-RPC 2.0 error object shape.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is one line-delimited JSON-RPC reply.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// Transport serves the KnowledgeGraph facade over line-delimited JSON-RPC,
// decoding one JSON object per line the same way this codebase decodes
// HTTP response bodies, applied to stdio framing instead.
type Transport struct {
	kg  *KnowledgeGraph
	in  *bufio.Scanner
	out io.Writer
}

// NewTransport wraps a KnowledgeGraph facade for line-delimited JSON-RPC
// serving over the given reader/writer (typically os.Stdin/os.Stdout).
func NewTransport(kg *KnowledgeGraph, in io.Reader, out io.Writer) *Transport {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Transport{kg: kg, in: scanner, out: out}
}

// Serve reads one JSON-RPC request per line until ctx is done or the
// input is exhausted, dispatching each to the bound KnowledgeGraph and
// writing one JSON-RPC response line per request.
func (t *Transport) Serve(ctx context.Context) error {
	for t.in.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := t.in.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			t.writeResponse(Response{Error: &rpcError{Code: -32700, Message: "parse error: " + err.Error()}})
			continue
		}
		t.writeResponse(t.dispatch(ctx, req))
	}
	return t.in.Err()
}

func (t *Transport) writeResponse(resp Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	fmt.Fprintf(t.out, "%s\n", encoded)
}

func (t *Transport) dispatch(ctx context.Context, req Request) Response {
	result, err := t.call(ctx, req.Method, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: &rpcError{Code: -32000, Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: result}
}

func (t *Transport) call(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "create_entities":
		var p struct {
			Entities []model.EntityInput `json:"entities"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.CreateEntities(ctx, p.Entities)

	case "add_observations":
		var p struct {
			Observations []model.ObservationDelta `json:"observations"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.AddObservations(ctx, p.Observations)

	case "delete_entities":
		var p struct {
			Names []string `json:"entityNames"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, t.kg.DeleteEntities(ctx, p.Names)

	case "delete_observations":
		var p struct {
			Deletions []model.ObservationDelta `json:"deletions"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, t.kg.DeleteObservations(ctx, p.Deletions)

	case "create_relations":
		var p struct {
			Relations []model.RelationInput `json:"relations"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.CreateRelations(ctx, p.Relations)

	case "get_relation":
		var p struct{ From, To, RelationType string }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.GetRelation(ctx, p.From, p.To, p.RelationType)

	case "update_relation":
		var p model.RelationInput
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.UpdateRelation(ctx, p)

	case "delete_relations":
		var p struct {
			Relations []model.RelationInput `json:"relations"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, t.kg.DeleteRelations(ctx, p.Relations)

	case "read_graph":
		return t.kg.ReadGraph(ctx)

	case "search_nodes":
		var p struct{ Query string }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.SearchNodes(ctx, p.Query)

	case "open_nodes":
		var p struct{ Names []string }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.OpenNodes(ctx, p.Names)

	case "semantic_search":
		var p struct {
			Query   string         `json:"query"`
			Options search.Options `json:"options"`
		}
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.SemanticSearch(ctx, p.Query, p.Options)

	case "get_entity_embedding":
		var p struct{ EntityName string }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.GetEntityEmbedding(ctx, p.EntityName)

	case "get_entity_history":
		var p struct{ Name string }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.GetEntityHistory(ctx, p.Name)

	case "get_relation_history":
		var p struct{ From, To, RelationType string }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.GetRelationHistory(ctx, p.From, p.To, p.RelationType)

	case "get_graph_at_time":
		var p struct{ At time.Time }
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.GetGraphAtTime(ctx, p.At)

	case "get_decayed_graph":
		var p graphstore.DecayOptions
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return t.kg.GetDecayedGraph(ctx, p)

	default:
		return nil, fmt.Errorf("mcpserver: unknown method %q", method)
	}
}

func unmarshalParams(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("mcpserver: invalid params: %w", err)
	}
	return nil
}
