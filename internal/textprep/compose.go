package textprep

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/utafrali/catalogsync/internal/domain"
)

const (
	// DefaultMaxLength bounds the composed text for models with an ~8k token
	// window.
	DefaultMaxLength = 8000

	// LongDescriptionLimit caps the long description before assembly.
	LongDescriptionLimit = 2000

	// Ellipsis marks truncated text.
	Ellipsis = "..."

	segmentSeparator = ". "
)

// ComposeInput holds the product fields that contribute to embedding text.
// A nil or empty field is skipped.
type ComposeInput struct {
	DescriptionShort *string
	DescriptionLong  *string
	ManufacturerName *string
	EclassID         *string
}

// Compose joins the normalized short description, the (capped) normalized
// long description, the manufacturer and the classification into one text
// of at most maxLength characters plus a trailing ellipsis. Lengths count
// Unicode code points. A negative maxLength is treated as 0.
//
// The result is not stable under re-application: call it once per record.
func Compose(in ComposeInput, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}

	parts := make([]string, 0, 4)

	if present(in.DescriptionShort) {
		parts = append(parts, Normalize(*in.DescriptionShort))
	}

	if present(in.DescriptionLong) {
		parts = append(parts, truncate(Normalize(*in.DescriptionLong), LongDescriptionLimit))
	}

	if present(in.ManufacturerName) {
		parts = append(parts, "Manufacturer: "+*in.ManufacturerName)
	}

	if present(in.EclassID) {
		parts = append(parts, "Classification: "+*in.EclassID)
	}

	return truncate(strings.Join(parts, segmentSeparator), maxLength)
}

// ComposeProduct composes the embedding text of p.
func ComposeProduct(p *domain.Product, maxLength int) string {
	return Compose(ComposeInput{
		DescriptionShort: p.DescriptionShort,
		DescriptionLong:  p.DescriptionLong,
		ManufacturerName: p.ManufacturerName,
		EclassID:         p.EclassID,
	}, maxLength)
}

// TextHash returns the hex BLAKE2b-256 digest of a composed text.
func TextHash(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func present(s *string) bool {
	return s != nil && *s != ""
}

// truncate keeps the first limit runes of s and appends Ellipsis when s is
// longer than limit.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}
