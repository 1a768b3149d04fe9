package mcp

import (
	"context"

	"github.com/pocketomega/chatrelay/internal/errs"
	"github.com/pocketomega/chatrelay/internal/mcp/transport"
	"github.com/pocketomega/chatrelay/internal/secret"
	"github.com/pocketomega/chatrelay/internal/store"
)

// StoreLookup implements ServerLookup over the persistence port's
// McpServerStore and the secret port: connection parameters live in
// mcp_servers, the API key lives there encrypted, and the registry only
// ever sees plaintext just before dialing.
type StoreLookup struct {
	servers   store.McpServerStore
	decrypter secret.Decrypter
}

// NewStoreLookup builds a StoreLookup.
func NewStoreLookup(servers store.McpServerStore, decrypter secret.Decrypter) *StoreLookup {
	return &StoreLookup{servers: servers, decrypter: decrypter}
}

func (l *StoreLookup) Lookup(ctx context.Context, serverID string) (transport.Kind, string, string, error) {
	srv, err := l.servers.GetServer(ctx, serverID)
	if err != nil {
		return "", "", "", err
	}

	kind, err := transportKind(srv.Transport)
	if err != nil {
		return "", "", "", err
	}

	var apiKey string
	if len(srv.APIKeyEnc) > 0 {
		plaintext, err := l.decrypter.Decrypt(ctx, srv.APIKeyEnc)
		if err != nil {
			return "", "", "", err
		}
		apiKey = string(plaintext)
	}

	return kind, srv.BaseURL, apiKey, nil
}

func transportKind(t store.McpTransport) (transport.Kind, error) {
	switch t {
	case store.TransportSSE:
		return transport.KindSSE, nil
	case store.TransportStreamableHTTP:
		return transport.KindStreamableHTTP, nil
	default:
		return "", errs.Wrap(errs.ProtocolError, "mcp: unknown transport "+string(t), nil)
	}
}
