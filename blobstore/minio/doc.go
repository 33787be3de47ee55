// Package minio provides a blobstore.Store implementation using the MinIO
// client.
//
// MinIO is a high-performance, S3-compatible object storage system. This
// package uses the official MinIO Go client and works with other
// S3-compatible systems like Ceph, SeaweedFS, and Garage.
//
// # Basic Usage
//
//	store, err := minioblob.New("localhost:9000", "slicemap",
//	    minioblob.WithCredentials("minioadmin", "minioadmin"),
//	    minioblob.WithPrefix("repos/"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	idx, err := slicemap.Open(ctx, store, "my-repo")
//
// An existing client can be wrapped with NewStore:
//
//	client, _ := minio.New("s3.example.com:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
//	    Secure: true,
//	})
//	store := minioblob.NewStore(client, "my-bucket", "repos/")
package minio
