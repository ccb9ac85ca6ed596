package engine

import (
	"net/http"

	"github.com/tailcallhq/tailcall-go/internal/blueprint"
	"github.com/tailcallhq/tailcall-go/internal/dataloader"
	"github.com/tailcallhq/tailcall-go/internal/evalctx"
	"github.com/tailcallhq/tailcall-go/internal/reqtemplate"
	"github.com/tailcallhq/tailcall-go/internal/runtime"
)

// NewRequestContext builds the per-request evaluation state for one
// incoming GraphQL request: a dense data-loader vector sized to the
// blueprint's loader count, populated for every HTTP- or GraphQL-kind
// loader slot (Grpc-kind slots dispatch through runtime.GrpcInvoker
// instead and never read a Loader). allowedHeaders is the already
// filtered forwarding header set for this request.
func NewRequestContext(rt runtime.Runtime, bp *blueprint.Blueprint, allowedHeaders http.Header) *evalctx.RequestContext {
	rc := evalctx.NewRequestContext(rt, allowedHeaders, bp.DataLoaderCount)
	for _, spec := range bp.Loaders {
		if spec.Kind == reqtemplate.Grpc {
			continue
		}
		client := rt.Http
		var group *dataloader.GroupBy
		if len(spec.GroupBy) > 0 {
			group = &dataloader.GroupBy{QueryParam: spec.GroupBy[0]}
		}
		rc.SetLoader(spec.DLID, dataloader.New(client, group))
	}
	return rc
}
