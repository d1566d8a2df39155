package store

import (
	"context"
	"fmt"
)

const externalIDSequence = "external_id"

// NextExternalID draws the next resident external id, e.g. BH-00042. Every
// path that makes a person non-pending goes through here so ids stay unique
// and monotonic.
func NextExternalID(ctx context.Context, tx Tx, prefix string) (string, error) {
	seq, err := tx.NextSequence(ctx, externalIDSequence)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%05d", prefix, seq), nil
}
