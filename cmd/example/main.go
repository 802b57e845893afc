package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

const (
	BucketName         = "example-bucket"
	OtherBucket        = "another-bucket"
	ObjectName         = "example.txt"
	ObjectContent      = "Hello from the stash example!\n"
	OtherObjectName    = "home/user/documents/report.txt"
	OtherObjectContent = `Quarterly report placeholder.

This object lives under a nested key to show that stash treats keys as
opaque strings: there are no directories on the wire, only separators
inside key names. Listing the bucket recursively returns this key next
to every other one, sorted lexicographically.
`
)

// EnsureBucket checks if a bucket exists, and creates it if it does not.
func EnsureBucket(ctx context.Context, client *minio.Client, bucketName string) error {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", bucketName, err)
		}
	}
	return nil
}

// UploadFile uploads an object to the specified bucket.
func UploadFile(ctx context.Context, client *minio.Client, bucketName string, objectName string, objectContent []byte) error {
	reader := bytes.NewReader(objectContent)
	info, err := client.PutObject(ctx, bucketName, objectName, reader, int64(len(objectContent)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %q to bucket %q: %w", objectName, bucketName, err)
	}

	slog.Info("Uploaded object to bucket", "object", objectName, "bucket", bucketName, "etag", info.ETag)
	return nil
}

// ListBucketObjects lists all objects in the specified bucket.
func ListBucketObjects(ctx context.Context, client *minio.Client, bucketName string) error {
	slog.Info("Objects in bucket", "bucket", bucketName)
	for objectInfo := range client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if objectInfo.Err != nil {
			return fmt.Errorf("failed to list objects in bucket %q: %w", bucketName, objectInfo.Err)
		}
		slog.Info("Object in bucket", "key", objectInfo.Key, "size", objectInfo.Size)
	}
	return nil
}

// DownloadFile downloads an object from the specified bucket to a local file.
func DownloadFile(ctx context.Context, client *minio.Client, bucketName string, objectName string, downloadPath string) error {
	if err := client.FGetObject(ctx, bucketName, objectName, downloadPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download object %q from bucket %q: %w", objectName, bucketName, err)
	}
	slog.Info("Downloaded object", "path", downloadPath)
	return nil
}

// StatAndRemoveObject inspects an object's metadata and then deletes it.
func StatAndRemoveObject(ctx context.Context, client *minio.Client, bucketName string, objectName string) error {
	info, err := client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to stat object %q in bucket %q: %w", objectName, bucketName, err)
	}
	slog.Info("Object metadata", "key", objectName, "size", info.Size, "etag", info.ETag, "last_modified", info.LastModified)

	if err := client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %q from bucket %q: %w", objectName, bucketName, err)
	}
	slog.Info("Removed object", "key", objectName, "bucket", bucketName)
	return nil
}

func MultipartUploadExample(ctx context.Context, client *minio.Client) error {

	const (
		bucket = "stash-core-multipart-bucket"
		object = "core-multipart-object.bin"
	)

	creds, err := client.GetCreds()
	if err != nil {
		return fmt.Errorf("failed to get client credentials: %w", err)
	}

	endpointURL := client.EndpointURL()

	coreClient, err := minio.NewCore(endpointURL.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(creds.AccessKeyID, creds.SecretAccessKey, ""),
		Secure:       false,
		BucketLookup: minio.BucketLookupPath,
	})

	if err != nil {
		return fmt.Errorf("failed to create core client: %w", err)
	}

	if err := coreClient.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: "us-east-1"}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", bucket, err)
	}

	// Initiate multipart upload.
	uploadID, err := coreClient.NewMultipartUpload(ctx, bucket, object, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	log := slog.With("bucket", bucket, "object", object, "upload_id", uploadID)
	log.Info("Started multipart upload")

	// Prepare three distinct parts and remember their combined payload.
	partData := [][]byte{
		bytes.Repeat([]byte("AAAA"), 256*1024), // ~1 MiB
		bytes.Repeat([]byte("BBBB"), 256*1024),
		bytes.Repeat([]byte("CCCC"), 128*1024), // smaller last part
	}

	parts := make([]minio.CompletePart, len(partData))
	totalLength := 0

	// Upload the parts in reverse order; the server reassembles them by
	// part number, so arrival order does not matter. The completion
	// manifest below still lists them ascending.
	for i := len(partData) - 1; i >= 0; i-- {
		partNumber := i + 1
		data := partData[i]

		objPart, err := coreClient.PutObjectPart(ctx, bucket, object, uploadID, partNumber, bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
		if err != nil {
			return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}

		parts[i] = minio.CompletePart{
			PartNumber: partNumber,
			ETag:       objPart.ETag,
		}
		totalLength += len(data)
	}

	// Complete the multipart upload.
	info, err := coreClient.CompleteMultipartUpload(ctx, bucket, object, uploadID, parts, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	log.Info("Completed multipart upload", "total_size", totalLength, "etag", info.ETag)
	return nil

}

func Run(ctx context.Context, client *minio.Client) error {
	// Ensure bucket exists.
	if err := EnsureBucket(ctx, client, BucketName); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	// 1. Upload an example.txt file.
	if err := UploadFile(ctx, client, BucketName, ObjectName, []byte(ObjectContent)); err != nil {
		return fmt.Errorf("failed to upload example file: %w", err)
	}

	// 2. List the contents of the bucket.
	if err := ListBucketObjects(ctx, client, BucketName); err != nil {
		return fmt.Errorf("failed to list bucket objects: %w", err)
	}

	// 3. Download the file.
	downloadPath := filepath.Join(".", "downloaded_"+ObjectName)
	if err := DownloadFile(ctx, client, BucketName, ObjectName, downloadPath); err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}

	// 4. Ensure another-bucket exists.
	if err := EnsureBucket(ctx, client, OtherBucket); err != nil {
		return fmt.Errorf("failed to ensure another bucket exists: %w", err)
	}

	// 5. Upload an object under a nested key.
	if err := UploadFile(ctx, client, OtherBucket, OtherObjectName, []byte(OtherObjectContent)); err != nil {
		return fmt.Errorf("failed to upload example file: %w", err)
	}

	// 6. List the contents of the second bucket.
	if err := ListBucketObjects(ctx, client, OtherBucket); err != nil {
		return fmt.Errorf("failed to list bucket objects: %w", err)
	}

	// 7. Stat and remove the nested object again.
	if err := StatAndRemoveObject(ctx, client, OtherBucket, OtherObjectName); err != nil {
		return fmt.Errorf("failed to stat and remove object: %w", err)
	}

	// 8. Demonstrate multipart upload using the low-level Core client.
	if err := MultipartUploadExample(ctx, client); err != nil {
		return fmt.Errorf("failed to run multipart upload example: %w", err)
	}

	return nil
}

func main() {
	endpoint := getenv("STASH_ENDPOINT", "localhost:9000")
	accessKey := getenv("STASH_ACCESS_KEY", "stashadmin")
	secretKey := getenv("STASH_SECRET_KEY", "stashadmin")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       false,
		BucketLookup: minio.BucketLookupPath,
	})

	if err != nil {
		slog.Error("failed to create MinIO client", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if err := Run(ctx, client); err != nil {
		slog.Error("error running example", "err", err)
		os.Exit(1)
	}
}
