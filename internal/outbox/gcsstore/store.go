// Package gcsstore is an outbox backend keeping one object per user in a
// Cloud Storage bucket. Writes are conditioned on the generation that was
// read, so concurrent processes cannot claim the same batch.
package gcsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/accountbook/internal/domain"
	"github.com/dvloznov/accountbook/internal/logger"
	"github.com/dvloznov/accountbook/internal/outbox"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const (
	maxConflictRetries = 5
	objectSuffix       = ".json"
)

// Store implements outbox.Store on a bucket.
type Store struct {
	bucket *storage.BucketHandle
	prefix string
	opts   outbox.Options
	now    func() time.Time
}

// New creates a store writing objects under prefix in bucket.
func New(client *storage.Client, bucket, prefix string, opts outbox.Options) *Store {
	return &Store{
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
		opts:   opts.WithDefaults(),
		now:    time.Now,
	}
}

// Stage implements outbox.Store.
func (s *Store) Stage(ctx context.Context, userID string, kind outbox.Kind, drafts []domain.Draft) (*outbox.Batch, error) {
	var staged *outbox.Batch
	err := s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
		var err error
		staged, err = doc.Stage(userID, kind, drafts, s.opts, s.now())
		return err == nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("Stage: %w", err)
	}
	return staged, nil
}

// StageBudget implements outbox.Store.
func (s *Store) StageBudget(ctx context.Context, userID string, budget domain.Budget) (*outbox.Batch, error) {
	var staged *outbox.Batch
	err := s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
		var err error
		staged, err = doc.StageBudget(userID, budget, s.now())
		return err == nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("StageBudget: %w", err)
	}
	return staged, nil
}

// Claim implements outbox.Store.
func (s *Store) Claim(ctx context.Context, userID string, kind outbox.Kind) (*outbox.Batch, error) {
	var claimed *outbox.Batch
	err := s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
		claimed = doc.Claim(kind, s.now())
		return claimed != nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("Claim: %w", err)
	}
	return claimed, nil
}

// Complete implements outbox.Store.
func (s *Store) Complete(ctx context.Context, batch *outbox.Batch, runErr error) error {
	var dropped *outbox.Batch
	err := s.update(ctx, batch.UserID, func(doc *outbox.Document) (bool, error) {
		var err error
		dropped, err = doc.Complete(batch, runErr, s.opts, s.now())
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	if dropped != nil {
		outbox.LogDropped(ctx, dropped)
	}
	return nil
}

// Purge implements outbox.Store.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + "/"})
	total := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("Purge: listing objects: %w", err)
		}

		userID, ok := s.userFromObject(attrs.Name)
		if !ok {
			continue
		}
		var n int
		err = s.update(ctx, userID, func(doc *outbox.Document) (bool, error) {
			n = doc.Purge(olderThan)
			return n > 0, nil
		})
		if err != nil {
			return total, fmt.Errorf("Purge: user %s: %w", userID, err)
		}
		total += n
	}
	return total, nil
}

// update runs a read-modify-write cycle, retrying when another writer got
// there first. fn may run more than once, so it must assign results rather
// than accumulate them.
func (s *Store) update(ctx context.Context, userID string, fn func(doc *outbox.Document) (bool, error)) error {
	obj := s.bucket.Object(s.objectName(userID))
	return retry(ctx, userID, func() error {
		doc, gen, err := read(ctx, obj)
		if err != nil {
			return err
		}

		changed, err := fn(doc)
		if err != nil || !changed {
			return err
		}
		return write(ctx, obj, gen, doc)
	})
}

// retry repeats cycle while it fails with a precondition conflict, up to
// maxConflictRetries times.
func retry(ctx context.Context, userID string, cycle func() error) error {
	log := logger.FromContext(ctx)
	for attempt := 1; ; attempt++ {
		err := cycle()
		if err == nil {
			return nil
		}
		if !isConflict(err) || attempt >= maxConflictRetries {
			return err
		}
		log.Debug().Str("user_id", userID).Int("attempt", attempt).Msg("Outbox write conflict, retrying")
	}
}

// read returns the document and its generation; 0 means the object is absent.
func read(ctx context.Context, obj *storage.ObjectHandle) (*outbox.Document, int64, error) {
	doc := &outbox.Document{}

	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return doc, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("opening outbox object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("reading outbox object: %w", err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, 0, fmt.Errorf("decoding outbox object: %w", err)
	}
	return doc, r.Attrs.Generation, nil
}

func write(ctx context.Context, obj *storage.ObjectHandle, gen int64, doc *outbox.Document) error {
	cond := storage.Conditions{GenerationMatch: gen}
	if gen == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding outbox object: %w", err)
	}

	w := obj.If(cond).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing outbox object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing outbox object: %w", err)
	}
	return nil
}

func isConflict(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func (s *Store) objectName(userID string) string {
	return ObjectName(s.prefix, userID)
}

// ObjectName returns the object holding userID's outbox under prefix.
func ObjectName(prefix, userID string) string {
	if userID == "" {
		userID = "_"
	}
	return prefix + "/" + url.PathEscape(userID) + objectSuffix
}

func (s *Store) userFromObject(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, s.prefix+"/")
	if !ok {
		return "", false
	}
	rest, ok = strings.CutSuffix(rest, objectSuffix)
	if !ok || strings.Contains(rest, "/") {
		return "", false
	}
	userID, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	if userID == "_" {
		userID = ""
	}
	return userID, true
}

// Ensure Store implements outbox.Store.
var _ outbox.Store = (*Store)(nil)
