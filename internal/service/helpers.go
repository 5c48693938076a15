package service

import (
	"context"
	"strconv"
	"time"
)

// opCtx bounds every store call so a stalled backend surfaces as a timeout
// instead of a hang. A non-positive timeout leaves the caller's context
// untouched.
func opCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func subjectUser(id uint) string { return "user:" + strconv.FormatUint(uint64(id), 10) }

func subjectUserProduct(userID, productID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10) +
		":product:" + strconv.FormatUint(uint64(productID), 10)
}

func subjectLicense(id uint) string { return "license:" + strconv.FormatUint(uint64(id), 10) }
