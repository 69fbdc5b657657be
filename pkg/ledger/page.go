package ledger

import (
	"encoding/base64"
	"strconv"

	"gorm.io/gorm"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// page applies offset pagination to q. The page token is a base64 encoded
// offset.
func page(q *gorm.DB, size int, token string) (*gorm.DB, int, int, error) {
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	offset := 0
	if token != "" {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil {
			return nil, 0, 0, &apperrors.ValidationError{Fields: map[string]string{"pageToken": "malformed"}}
		}
		n, err := strconv.Atoi(string(decoded))
		if err != nil || n < 0 {
			return nil, 0, 0, &apperrors.ValidationError{Fields: map[string]string{"pageToken": "malformed"}}
		}
		offset = n
	}
	return q.Offset(offset).Limit(size + 1), offset, size, nil
}

// nextToken returns the token of the page following one that fetched got
// rows (size+1 were requested), or "" on the last page.
func nextToken(offset, size, got int) string {
	if got <= size {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset + size)))
}
