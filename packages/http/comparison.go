package http

import (
	"context"

	"github.com/abdul-hamid-achik/parity/packages/core/config"
)

// ComparisonClient sends the same request to both implementations of an
// environment.
type ComparisonClient struct {
	Client *Client
	Env    *config.Environment
}

func NewComparisonClient(client *Client, env *config.Environment) *ComparisonClient {
	return &ComparisonClient{Client: client, Env: env}
}

// CompareGet requests endpoint from apiImpl1 and then from apiImpl2.
func (cc *ComparisonClient) CompareGet(ctx context.Context, endpoint string, params map[string]string) (*Response, *Response, error) {
	first, err := cc.Client.Get(ctx, cc.Env.APIImpl1, endpoint, params)
	if err != nil {
		return nil, nil, err
	}
	second, err := cc.Client.Get(ctx, cc.Env.APIImpl2, endpoint, params)
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}
