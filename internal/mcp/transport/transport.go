// Package transport opens the two MCP wire transports this system supports
// (SSE and Streamable HTTP) and performs the MCP initialize handshake via
// github.com/mark3labs/mcp-go/client and its transport sub-package. Raw
// JSON-RPC framing is left entirely to the SDK; this package only selects
// a transport, attaches auth headers, and drives the handshake.
package transport

import (
	"context"
	"fmt"
	"time"

	sdk_client "github.com/mark3labs/mcp-go/client"
	sdk_transport "github.com/mark3labs/mcp-go/client/transport"
	sdk_mcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/pocketomega/chatrelay/internal/errs"
)

// Kind selects the wire transport for an MCP server, mirroring
// store.McpTransport without importing the store package.
type Kind string

const (
	KindSSE            Kind = "SSE"
	KindStreamableHTTP Kind = "STREAMABLE_HTTP"
)

// Dial opens the selected transport against baseURL, attaches a bearer
// token when apiKey is non-empty, performs the MCP initialize handshake,
// and returns an sdk_client.MCPClient ready for ListTools/CallTool.
//
// initTimeout bounds the handshake only; the caller (the session registry)
// separately bounds the whole dial+handshake under operationTimeout.
func Dial(ctx context.Context, kind Kind, baseURL, apiKey string, initTimeout time.Duration) (sdk_client.MCPClient, error) {
	var headers map[string]string
	if apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}

	var cli *sdk_client.Client
	var err error
	switch kind {
	case KindSSE:
		var opts []sdk_transport.ClientOption
		if len(headers) > 0 {
			opts = append(opts, sdk_transport.WithHeaders(headers))
		}
		cli, err = sdk_client.NewSSEMCPClient(baseURL, opts...)
	case KindStreamableHTTP:
		var opts []sdk_transport.StreamableHTTPCOption
		if len(headers) > 0 {
			opts = append(opts, sdk_transport.WithHTTPHeaders(headers))
		}
		cli, err = sdk_client.NewStreamableHttpClient(baseURL, opts...)
	default:
		return nil, errs.Wrap(errs.InvalidRequest, fmt.Sprintf("mcp: unknown transport %q", kind), nil)
	}
	if err != nil {
		return nil, errs.Wrap(errs.TransportError, "mcp: create client", err)
	}

	if err := cli.Start(ctx); err != nil {
		return nil, errs.Wrap(errs.TransportError, "mcp: start transport", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	initReq := sdk_mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = sdk_mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = sdk_mcp.Implementation{
		Name:    "chatrelay",
		Version: "0.1.0",
	}
	initReq.Params.Capabilities = sdk_mcp.ClientCapabilities{}

	if _, err := cli.Initialize(initCtx, initReq); err != nil {
		_ = cli.Close()
		if initCtx.Err() != nil {
			return nil, errs.Wrap(errs.Timeout, "mcp: initialize handshake", err)
		}
		return nil, errs.Wrap(errs.TransportError, "mcp: initialize handshake", err)
	}

	return cli, nil
}
