package graph

import (
	"context"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// Request is the standard GraphQL-over-HTTP payload.
type Request struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// Result aliases the executor result so transports need not import graphql-go.
type Result = graphql.Result

// Do executes a query or mutation.
func (s *Schema) Do(ctx context.Context, req Request) *Result {
	return graphql.Do(s.params(ctx, req))
}

// Subscribe starts a subscription. The channel yields one result per event and
// is closed when ctx is done or the source ends. Callers must keep receiving
// until it is closed.
func (s *Schema) Subscribe(ctx context.Context, req Request) <-chan *Result {
	return graphql.Subscribe(s.params(ctx, req))
}

func (s *Schema) params(ctx context.Context, req Request) graphql.Params {
	return graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	}
}

// OperationType reports "query", "mutation" or "subscription" for the
// operation req selects. It returns "" when the document does not parse or the
// operation cannot be found; executing it then yields the proper error.
func OperationType(req Request) string {
	doc, err := parser.Parse(parser.ParseParams{Source: req.Query})
	if err != nil {
		return ""
	}

	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}

	for _, op := range ops {
		switch {
		case req.OperationName == "" && len(ops) == 1:
			return op.Operation
		case op.Name != nil && op.Name.Value == req.OperationName:
			return op.Operation
		}
	}
	return ""
}
