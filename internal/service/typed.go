package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
)

// Validatable payloads check themselves instead of going through struct tags.
type Validatable interface {
	Validate() error
}

var validate = validator.New()

// Typed adapts a DocumentService to a resource's payload type N and stored
// model T. Payloads are validated before they reach the document service.
type Typed[N any, T any] struct {
	docs DocumentService
}

func NewTyped[N any, T any](docs DocumentService) *Typed[N, T] {
	return &Typed[N, T]{docs: docs}
}

// Documents returns the wrapped document service.
func (t *Typed[N, T]) Documents() DocumentService { return t.docs }

// CheckPayload validates a payload the way Create and Update do.
func CheckPayload(payload interface{}) error {
	if v, ok := payload.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return nil
	}
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

func (t *Typed[N, T]) data(payload N) (bson.M, error) {
	if err := CheckPayload(payload); err != nil {
		return nil, err
	}
	return ToData(payload)
}

func (t *Typed[N, T]) Create(ctx context.Context, user Principal, payload N) (*Ack, error) {
	data, err := t.data(payload)
	if err != nil {
		return nil, err
	}
	return t.docs.Create(ctx, user, data)
}

func (t *Typed[N, T]) RetrieveOne(ctx context.Context, user Principal, uid string) (*T, error) {
	doc, err := t.docs.RetrieveOne(ctx, user, uid)
	if err != nil {
		return nil, err
	}
	return DecodeAs[T](doc)
}

func (t *Typed[N, T]) RetrieveMultiple(ctx context.Context, user Principal, opts ListOptions) ([]*T, error) {
	docs, err := t.docs.RetrieveMultiple(ctx, user, opts)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}

func (t *Typed[N, T]) RetrieveArchived(ctx context.Context, user Principal, page, pageSize int) ([]*T, error) {
	docs, err := t.docs.RetrieveArchived(ctx, user, page, pageSize)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}

func (t *Typed[N, T]) Update(ctx context.Context, user Principal, payload N, uid, etag string) (*Ack, error) {
	data, err := t.data(payload)
	if err != nil {
		return nil, err
	}
	return t.docs.Update(ctx, user, data, uid, etag)
}

func (t *Typed[N, T]) ArchiveAction(ctx context.Context, user Principal, action ArchiveAction, uid, etag string) (*Ack, error) {
	return t.docs.ArchiveAction(ctx, user, action, uid, etag)
}

// Delete is disabled for every resource type.
func (t *Typed[N, T]) Delete(ctx context.Context, user Principal, uid string) error {
	return ErrNotImplemented
}

// DecodeAs converts a stored document into the model T.
func DecodeAs[T any](doc *Document) (*T, error) {
	var out T
	if err := doc.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", doc.UID, err)
	}
	return &out, nil
}

func DecodeAll[T any](docs []*Document) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		m, err := DecodeAs[T](d)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
