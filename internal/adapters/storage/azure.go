package storage

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/verdant/internal/domain"
	"github.com/jobrunner/verdant/internal/ports/output"
)

// AzureStorage stages pipeline inputs from a blob container and publishes outputs back.
type AzureStorage struct {
	client    *azblob.Client
	container string
	keys      keyspace
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string // takes precedence over account name and key
	Prefix           string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, &domain.StorageError{Operation: "connect", Err: err}
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
		keys:      keyspace(cfg.Prefix),
	}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
	return azblob.NewClientWithSharedKeyCredential(url, cred, nil)
}

// List returns the rasters, layers and control files below the prefix.
func (s *AzureStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	prefix := string(s.keys)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Err: err}
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || !IsDataFile(*item.Name) {
				continue
			}
			objects = append(objects, s.toObject(item))
		}
	}

	return objects, nil
}

func (s *AzureStorage) toObject(item *container.BlobItem) output.StorageObject {
	obj := output.StorageObject{Key: s.keys.rel(*item.Name)}

	props := item.Properties
	if props == nil {
		return obj
	}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.LastModified = props.LastModified.Unix()
	}
	if props.ETag != nil {
		obj.ETag = string(*props.ETag)
	}
	return obj
}

// Download stages a blob at dest.
func (s *AzureStorage) Download(ctx context.Context, key string, dest string) error {
	body, err := s.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := writeFile(dest, body); err != nil {
		return &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	return nil
}

// Upload publishes a local file under key with a content type derived from its extension.
func (s *AzureStorage) Upload(ctx context.Context, src string, key string) error {
	f, err := os.Open(src) //#nosec G304 -- src is a pipeline output path
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	ct := contentType(key)
	_, err = s.client.UploadFile(ctx, s.container, s.keys.full(key), f, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		return &domain.StorageError{Operation: "upload", Key: key, Err: err}
	}
	return nil
}

// GetReader returns the body of a blob.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.keys.full(key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			err = errors.Join(domain.ErrNotFound, err)
		}
		return nil, &domain.StorageError{Operation: "download", Key: key, Err: err}
	}
	return resp.Body, nil
}

// Exists reports whether key is present. Only a not-found answer yields false without error.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(s.keys.full(key)).
		GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	return false, &domain.StorageError{Operation: "exists", Key: key, Err: err}
}
