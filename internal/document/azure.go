package document

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AzureStorage keeps blobs in an Azure Blob Storage container.
type AzureStorage struct {
	client    *azblob.Client
	container string
	log       *zap.Logger
}

// NewAzureStorage validates the connection string and creates the client.
// No request is made until EnsureContainer or the first upload.
func NewAzureStorage(connectionString, container string) (*AzureStorage, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, eris.Wrap(err, "document: create azure client")
	}
	return &AzureStorage{
		client:    client,
		container: container,
		log:       zap.L().With(zap.String("component", "azure_storage")),
	}, nil
}

// EnsureContainer creates the container if it does not exist.
func (a *AzureStorage) EnsureContainer(ctx context.Context) error {
	_, err := a.client.CreateContainer(ctx, a.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return eris.Wrapf(err, "document: create container %s", a.container)
	}
	a.log.Info("storage container ready", zap.String("container", a.container))
	return nil
}

// Put implements Storage.
func (a *AzureStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := a.client.UploadStream(ctx, a.container, key, r, opts); err != nil {
		return eris.Wrapf(err, "document: upload blob %s", key)
	}
	return nil
}

// Open implements Storage.
func (a *AzureStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrBlobNotFound
		}
		return nil, eris.Wrapf(err, "document: download blob %s", key)
	}
	return resp.Body, nil
}

// Delete implements Storage.
func (a *AzureStorage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := a.client.DeleteBlob(ctx, a.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return eris.Wrapf(err, "document: delete blob %s", key)
	}
	return nil
}
