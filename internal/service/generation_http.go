package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// HTTP operations, used as the transport operation for middleware and logs.
const (
	OperationGenerate     = "/insightrelay.v1.Generation/Generate"
	OperationListBreakers = "/insightrelay.v1.Generation/ListBreakers"
	OperationResetBreaker = "/insightrelay.v1.Generation/ResetBreaker"
	OperationListTiers    = "/insightrelay.v1.Generation/ListTiers"
)

// RegisterGenerationHTTPServer registers the generation routes on s.
func RegisterGenerationHTTPServer(s *http.Server, srv *GenerationService) {
	r := s.Route("/")
	r.POST("/v1/generate", generateHandler(srv))
	r.GET("/v1/breakers", listBreakersHandler(srv))
	r.POST("/v1/breakers/{provider}/reset", resetBreakerHandler(srv))
	r.GET("/v1/tiers", listTiersHandler(srv))
}

func generateHandler(srv *GenerationService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in GenerateRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationGenerate)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Generate(ctx, req.(*GenerateRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func listBreakersHandler(srv *GenerationService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationListBreakers)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.ListBreakers(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func resetBreakerHandler(srv *GenerationService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := ResetBreakerRequest{Provider: ctx.Vars().Get("provider")}
		http.SetOperation(ctx, OperationResetBreaker)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ResetBreaker(ctx, req.(*ResetBreakerRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func listTiersHandler(srv *GenerationService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationListTiers)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.ListTiers(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
