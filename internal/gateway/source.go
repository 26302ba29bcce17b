package gateway

import (
	"context"
	"fmt"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/store"
	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// LocalSource fetches tokens from this controller's own store through the
// dispatcher, so the fetch takes the same lock as protocol requests.
type LocalSource struct {
	Dispatcher *Dispatcher
	Admin      types.Identifier
	Password   string
}

var _ service.TokenSource = LocalSource{}

func (s LocalSource) FetchTokens(ctx context.Context) ([]types.Token, error) {
	toks, st, err := s.Dispatcher.ListTokens(ctx, s.Admin, s.Password)
	if err != nil {
		return nil, err
	}
	if st != store.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrRejected, st)
	}
	return toks, nil
}

// RemoteSource fetches tokens from another door's gateway.
type RemoteSource struct {
	Client   *Client
	Admin    types.Identifier
	Password string
}

var _ service.TokenSource = RemoteSource{}

func (s RemoteSource) FetchTokens(ctx context.Context) ([]types.Token, error) {
	return s.Client.ListTokens(ctx, s.Admin, s.Password)
}
