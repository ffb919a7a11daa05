package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// GridFS stores blobs in a MongoDB GridFS bucket. Blob ids are the hex form of
// the file's ObjectID.
type GridFS struct {
	bucket *gridfs.Bucket
	limit  int64
}

// NewGridFS opens the named bucket in db.
func NewGridFS(db *mongo.Database, bucketName string) (*GridFS, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket %q: %w", bucketName, err)
	}
	return &GridFS{bucket: bucket, limit: MaxFileSize}, nil
}

// fileDoc is the subset of a GridFS files document the store reads. Files
// written by older clients carry contentType at the top level instead of in
// metadata.
type fileDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Length      int64              `bson:"length"`
	UploadDate  time.Time          `bson:"uploadDate"`
	FileName    string             `bson:"filename"`
	ContentType string             `bson:"contentType,omitempty"`
	Metadata    struct {
		ContentType string `bson:"contentType,omitempty"`
	} `bson:"metadata"`
}

func (d fileDoc) metadata() Metadata {
	ct := d.Metadata.ContentType
	if ct == "" {
		ct = d.ContentType
	}
	if ct == "" {
		ct = DefaultContentType
	}
	return Metadata{
		ID:          d.ID.Hex(),
		FileName:    d.FileName,
		ContentType: ct,
		Size:        d.Length,
		UploadedAt:  d.UploadDate.UTC(),
	}
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidID
	}
	return oid, nil
}

// Put streams content into a new GridFS file. The files document is only
// written when the stream is closed, so a failed copy is aborted and leaves no
// visible file.
func (s *GridFS) Put(ctx context.Context, fileName, contentType string, content io.Reader) (Metadata, error) {
	if fileName == "" {
		return Metadata{}, ErrMissingFileName
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}})
	us, err := s.bucket.OpenUploadStream(fileName, opts)
	if err != nil {
		return Metadata{}, apperr.Wrap(apperr.KindStorage, "open upload stream", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = us.SetWriteDeadline(deadline)
	}

	n, err := io.Copy(us, newLimitReader(content, s.limit))
	if err != nil {
		_ = us.Abort()
		if errors.Is(err, ErrFileTooLarge) {
			return Metadata{}, ErrFileTooLarge
		}
		return Metadata{}, apperr.Wrap(apperr.KindStorage, "upload file", err)
	}
	if err := us.Close(); err != nil {
		return Metadata{}, apperr.Wrap(apperr.KindStorage, "finish upload", err)
	}

	oid, _ := us.FileID.(primitive.ObjectID)
	return Metadata{
		ID:          oid.Hex(),
		FileName:    fileName,
		ContentType: contentType,
		Size:        n,
		UploadedAt:  time.Now().UTC(),
	}, nil
}

func (s *GridFS) Stat(ctx context.Context, id string) (Metadata, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return Metadata{}, err
	}

	cur, err := s.bucket.FindContext(ctx, bson.M{"_id": oid})
	if err != nil {
		return Metadata{}, apperr.Wrap(apperr.KindStorage, "find file", err)
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return Metadata{}, apperr.Wrap(apperr.KindStorage, "find file", err)
		}
		return Metadata{}, ErrBlobNotFound
	}

	var doc fileDoc
	if err := cur.Decode(&doc); err != nil {
		return Metadata{}, apperr.Wrap(apperr.KindStorage, "decode file document", err)
	}
	return doc.metadata(), nil
}

// Get returns a reader over the file's chunks. Nothing is buffered beyond the
// driver's current chunk.
func (s *GridFS) Get(ctx context.Context, id string) (io.ReadCloser, Metadata, error) {
	meta, err := s.Stat(ctx, id)
	if err != nil {
		return nil, Metadata{}, err
	}
	oid, _ := parseObjectID(id)

	ds, err := s.bucket.OpenDownloadStream(oid)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, Metadata{}, ErrBlobNotFound
		}
		return nil, Metadata{}, apperr.Wrap(apperr.KindStorage, "open download stream", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = ds.SetReadDeadline(deadline)
	}
	return ds, meta, nil
}

func (s *GridFS) Delete(ctx context.Context, id string) error {
	oid, err := parseObjectID(id)
	if err != nil {
		return err
	}
	if err := s.bucket.DeleteContext(ctx, oid); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrBlobNotFound
		}
		return apperr.Wrap(apperr.KindStorage, "delete file", err)
	}
	return nil
}

// Connect dials MongoDB and pings it.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}
