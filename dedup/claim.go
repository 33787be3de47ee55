package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/slicemap/blobstore"
	"github.com/hupe1980/slicemap/model"
)

// MaxClaimAttempts bounds the ids ClaimBlobID tries before giving up.
const MaxClaimAttempts = 1024

// ErrNoFreeBlobID is returned when every id tried by ClaimBlobID was taken.
var ErrNoFreeBlobID = errors.New("dedup: no free blob id")

// ClaimBlobID allocates ids from idx until create succeeds for one of them.
// create must write the blob of the id only if it does not exist yet and
// fail with blobstore.ErrExists otherwise. Ids already taken by another
// writer are skipped, so a blob is never written by two builds even when
// their indexes hand out the same ids.
func ClaimBlobID(ctx context.Context, idx Index, create func(ctx context.Context, id model.BlobID) error) (model.BlobID, error) {
	for range MaxClaimAttempts {
		id, err := idx.NextBlobID(ctx)
		if err != nil {
			return 0, err
		}
		err = create(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, blobstore.ErrExists) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: %d ids taken", ErrNoFreeBlobID, MaxClaimAttempts)
}
