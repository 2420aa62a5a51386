package backgroundsync

import (
	"github.com/menubuilder/offline-gateway/internal/datastore/entities"
	"github.com/menubuilder/offline-gateway/internal/errors"
)

// Kind is a sync tag. The set is closed: every Kind maps to one queue and one
// API endpoint.
type Kind string

const (
	KindProductSubmission    Kind = "product-submission"
	KindIngredientSubmission Kind = "ingredient-submission"
)

// ErrUnknownTag is returned by ParseTag for tags outside the known set.
var ErrUnknownTag = errors.NewStd("unknown sync tag")

// Kinds lists every sync kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindProductSubmission, KindIngredientSubmission}
}

// ParseTag converts a sync tag into a Kind.
func ParseTag(tag string) (Kind, error) {
	switch k := Kind(tag); k {
	case KindProductSubmission, KindIngredientSubmission:
		return k, nil
	default:
		return "", errors.New(ErrUnknownTag).
			Component("backgroundsync").
			Category(errors.CategoryValidation).
			Context("tag", tag).
			Build()
	}
}

// Queue returns the submission queue drained by k.
func (k Kind) Queue() entities.Queue {
	switch k {
	case KindIngredientSubmission:
		return entities.QueueIngredients
	default:
		return entities.QueueProducts
	}
}

// Endpoint returns the origin path submissions of k are posted to.
func (k Kind) Endpoint() string {
	switch k {
	case KindIngredientSubmission:
		return "/api/ingredients"
	default:
		return "/api/products"
	}
}

// KindForQueue is the inverse of Kind.Queue.
func KindForQueue(q entities.Queue) (Kind, bool) {
	switch q {
	case entities.QueueProducts:
		return KindProductSubmission, true
	case entities.QueueIngredients:
		return KindIngredientSubmission, true
	default:
		return "", false
	}
}
