package scanner

import (
	"context"
	"fmt"

	asset "cloud.google.com/go/asset/apiv1"
	"cloud.google.com/go/asset/apiv1/assetpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// InventoryLister pages through the Cloud Asset Inventory API
type InventoryLister struct {
	client *asset.Client
}

// NewInventoryLister creates a lister using application default credentials
// unless opts say otherwise.
func NewInventoryLister(ctx context.Context, opts ...option.ClientOption) (*InventoryLister, error) {
	client, err := asset.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset client: %w", err)
	}
	return &InventoryLister{client: client}, nil
}

// List drains every page of the listing
func (l *InventoryLister) List(ctx context.Context, req *assetpb.ListAssetsRequest) ([]*assetpb.Asset, error) {
	var assets []*assetpb.Asset

	it := l.client.ListAssets(ctx, req)
	for {
		a, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, nil
}

// Close releases the client connection
func (l *InventoryLister) Close() error {
	return l.client.Close()
}
