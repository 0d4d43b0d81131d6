package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownPartition is returned for ids without a recognised prefix.
var ErrUnknownPartition = errors.New("unknown partition")

// Partition is one of the two physical feedback collections.
type Partition string

const (
	PartitionExternal Partition = "external"
	PartitionInternal Partition = "internal"
)

const (
	externalPrefix = "ext-"
	internalPrefix = "int-"
)

// Partitions lists both partitions in sweep order.
func Partitions() []Partition {
	return []Partition{PartitionExternal, PartitionInternal}
}

// Prefix returns the id prefix of the partition.
func (p Partition) Prefix() string {
	if p == PartitionInternal {
		return internalPrefix
	}
	return externalPrefix
}

// NewID generates a fresh record id routed to the partition.
func (p Partition) NewID() string {
	return p.Prefix() + uuid.NewString()
}

// PartitionOf resolves the partition addressed by an id.
func PartitionOf(id string) (Partition, error) {
	switch {
	case strings.HasPrefix(id, externalPrefix) && len(id) > len(externalPrefix):
		return PartitionExternal, nil
	case strings.HasPrefix(id, internalPrefix) && len(id) > len(internalPrefix):
		return PartitionInternal, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPartition, id)
}
