package scraper

import (
	"context"

	"imgscraper/pkg/acceptor"
	"imgscraper/pkg/download"
	"imgscraper/pkg/searchkey"
	"imgscraper/pkg/storage"
)

// Downloader fetches a candidate image URL
type Downloader interface {
	Fetch(ctx context.Context, url string) (*download.Response, error)
}

// ImageStore persists accepted images and returns the written path
type ImageStore interface {
	SaveImage(img *acceptor.AcceptedImage) (string, error)
}

// StoreProvider returns the store for a key's directory, creating it if needed
type StoreProvider func(key searchkey.Key) (ImageStore, error)

// RegistryStores adapts a storage registry to a StoreProvider
func RegistryStores(r *storage.Registry) StoreProvider {
	return func(key searchkey.Key) (ImageStore, error) {
		m, err := r.ForKey(key)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
