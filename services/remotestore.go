package services

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/getsentry/sentry-go"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"roopapi/models"
)

// RemoteLookStoreProvider is the cloud persistence surface for looks: one
// metadata document and one blob per look, plus a live feed over the user's
// collection. Adapters never retry - fallback is the repository's job.
type RemoteLookStoreProvider interface {
	Save(ctx context.Context, userID string, look models.Look) (models.Look, error)
	Delete(ctx context.Context, userID string, id string, blobKey *string) error
	Subscribe(userID string, onUpdate func([]models.Look)) func()
}

// LookBlobKey is the conventional blob location for a look. Delete falls
// back to this path when no stored reference exists, so blobs persisted
// under an older convention would be silently left behind.
func LookBlobKey(userID, lookID string) string {
	return fmt.Sprintf("users/%s/looks/%s.jpg", userID, lookID)
}

// FirebaseLookStore persists look metadata in Firestore under
// users/{uid}/looks/{id} and the image bytes in R2 under the conventional
// blob key.
type FirebaseLookStore struct {
	Firestore  *firestore.Client
	AWSService AWSServiceProvider
	BucketName string
}

func (s *FirebaseLookStore) looksCollection(userID string) *firestore.CollectionRef {
	return s.Firestore.Collection("users").Doc(userID).Collection("looks")
}

// Save uploads the inline payload first and then writes the metadata record
// with the blob reference substituted for the payload. If the metadata write
// fails after the upload the orphaned blob is left behind: the caller sees
// the failure and decides what to do with the look.
func (s *FirebaseLookStore) Save(ctx context.Context, userID string, look models.Look) (models.Look, error) {
	if len(look.Payload) == 0 {
		return look, fmt.Errorf("look %s has no inline payload to upload", look.ID)
	}

	blobKey := LookBlobKey(userID, look.ID)
	uploadURL, err := s.AWSService.PresignLink(ctx, s.BucketName, blobKey)
	if err != nil {
		return look, fmt.Errorf("presigning look upload %s: %w", blobKey, err)
	}
	_, statusCode, err := s.AWSService.UploadToPresignedURL(ctx, s.BucketName, uploadURL, look.Payload)
	if err != nil {
		return look, fmt.Errorf("uploading look blob %s (status %d): %w", blobKey, statusCode, err)
	}
	readURL, err := s.AWSService.GetPresignedR2FileReadURL(ctx, s.BucketName, blobKey)
	if err != nil {
		return look, fmt.Errorf("getting read url for %s: %w", blobKey, err)
	}

	_, err = s.looksCollection(userID).Doc(look.ID).Set(ctx, map[string]interface{}{
		"id":         look.ID,
		"label":      look.Label,
		"kind":       look.Kind,
		"mime_type":  look.MimeType,
		"blob_key":   blobKey,
		"url":        readURL,
		"timestamp":  firestore.ServerTimestamp,
		"created_at": look.CreatedAt.UnixMilli(),
	})
	if err != nil {
		sentry.CaptureException(fmt.Errorf("metadata write failed for look %s, blob %s orphaned: %v", look.ID, blobKey, err))
		return look, fmt.Errorf("writing look metadata %s: %w", look.ID, err)
	}

	// Persisted: the blob reference is authoritative now, drop the inline bytes.
	look.Payload = nil
	look.RemoteBlobKey = &blobKey
	look.RemoteURL = &readURL
	return look, nil
}

// Delete removes the metadata record and then the blob. A missing blob is
// success - deleting twice must succeed twice.
func (s *FirebaseLookStore) Delete(ctx context.Context, userID string, id string, blobKey *string) error {
	if _, err := s.looksCollection(userID).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("deleting look metadata %s: %w", id, err)
	}

	key := LookBlobKey(userID, id)
	if blobKey != nil && *blobKey != "" {
		key = *blobKey
	}
	if err := s.AWSService.DeleteObject(ctx, s.BucketName, key); err != nil {
		return fmt.Errorf("deleting look blob %s: %w", key, err)
	}
	return nil
}

// Subscribe opens a live query over the user's looks ordered by server
// timestamp, newest first. The callback fires once with the current snapshot
// and again on every change until the returned cancel func is called.
func (s *FirebaseLookStore) Subscribe(userID string, onUpdate func([]models.Look)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	snapshots := s.looksCollection(userID).
		OrderBy("timestamp", firestore.Desc).
		Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snapshot, err := snapshots.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled {
					return
				}
				sentry.CaptureException(fmt.Errorf("look feed for %s broke: %v", userID, err))
				return
			}
			looks, err := looksFromSnapshot(snapshot)
			if err != nil {
				sentry.CaptureException(err)
				continue
			}
			onUpdate(looks)
		}
	}()

	return cancel
}

func looksFromSnapshot(snapshot *firestore.QuerySnapshot) ([]models.Look, error) {
	looks := []models.Look{}
	for {
		doc, err := snapshot.Documents.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading look snapshot document: %v", err)
		}
		looks = append(looks, lookFromDoc(doc))
	}
	return looks, nil
}

func lookFromDoc(doc *firestore.DocumentSnapshot) models.Look {
	data := doc.Data()
	look := models.Look{
		ID:       stringField(data, "id"),
		Label:    stringField(data, "label"),
		Kind:     stringField(data, "kind"),
		MimeType: stringField(data, "mime_type"),
	}
	if look.ID == "" {
		look.ID = doc.Ref.ID
	}
	if ms, ok := data["created_at"].(int64); ok {
		look.CreatedAt = time.UnixMilli(ms)
	}
	if key := stringField(data, "blob_key"); key != "" {
		look.RemoteBlobKey = &key
	}
	if url := stringField(data, "url"); url != "" {
		look.RemoteURL = &url
	}
	return look
}

func stringField(data map[string]interface{}, key string) string {
	value, _ := data[key].(string)
	return value
}
